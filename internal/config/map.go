package config

// Map is a source of configuration values.
type Map interface {

	// Lookup looks up a single value with a complete key.
	Lookup(key string) (string, bool)
}

// A StdMap is a map[string]string.
type StdMap map[string]string

func (m StdMap) Lookup(key string) (string, bool) {
	found, ok := m[key]
	return found, ok
}

// A Layered [Map] checks each of its maps in order and returns the first value found.
type Layered []Map

func (l Layered) Lookup(key string) (string, bool) {
	for _, m := range l {
		if m == nil {
			continue
		}
		if v, ok := m.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}
