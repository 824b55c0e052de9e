package config

import (
	"os"
	"strings"
)

// An EnvMap is a [Map] that reads from environment variables. Keys are mapped to environment
// variable names by replacing hyphens ('-') with underscores ('_'), replacing periods ('.') with
// two underscores ("__"), and transforming the key to UPPER-CASE. A non-empty Prefix is
// prepended to every name followed by an underscore.
type EnvMap struct {
	Prefix string
}

func (m EnvMap) Lookup(key string) (string, bool) {
	return os.LookupEnv(m.Name(key))
}

// Name returns the environment variable name for key.
func (m EnvMap) Name(key string) string {
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, ".", "__")
	if m.Prefix != "" {
		key = m.Prefix + "_" + key
	}
	return strings.ToUpper(key)
}

// ForCommand returns the [Map] a command reads its configuration from. A variable prefixed
// with the command's name overrides the shared one, so STAGER_KAFKA__BOOTSTRAP_SERVERS wins
// over KAFKA__BOOTSTRAP_SERVERS for the "stager" command.
func ForCommand(name string) Map {
	return Layered{
		EnvMap{Prefix: name},
		EnvMap{},
	}
}
