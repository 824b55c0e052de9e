// Command ringdemo runs a short, fixed sequence of ring buffer operations and logs the
// buffer's state after each one.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ttd2089/ring-staging-poc/internal/config"
	"github.com/ttd2089/ring-staging-poc/internal/logging"
	"github.com/ttd2089/ring-staging-poc/internal/ringbuf"
)

type appConfig struct {
	Capacity int    `config_key:"ringdemo.capacity" config_default:"3"`
	LogMode  string `config_key:"log.mode" config_default:"dev"`
}

func main() {
	if err := run(); err != nil {
		fmt.Printf("fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {

	cfg, err := config.Parse[appConfig](config.ForCommand("ringdemo"))
	if err != nil {
		return fmt.Errorf("parse app config: %v", err)
	}

	log, err := logging.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer log.Sync()

	buf, err := ringbuf.New(cfg.Capacity)
	if err != nil {
		return fmt.Errorf("create ring buffer: %w", err)
	}
	defer buf.Release()

	steps := []struct {
		name string
		op   func() ([]byte, error)
	}{
		{"safe write 'a'", write(buf.SafeWrite, "a")},
		{"safe write 'ab'", write(buf.SafeWrite, "ab")},
		{"write 'xy'", write(buf.Write, "xy")},
		{"pop 2", func() ([]byte, error) { return buf.Pop(2) }},
		{"pop 2", func() ([]byte, error) { return buf.Pop(2) }},
	}

	logState(log, "created", buf)
	for _, step := range steps {
		popped, err := step.op()
		if err != nil {
			log.Warn(step.name, zap.Error(err))
		} else if popped != nil {
			log.Info("popped", zap.ByteString("data", popped))
		}
		logState(log, step.name, buf)
	}
	return nil
}

func write(fn func([]byte) (int, error), s string) func() ([]byte, error) {
	return func() ([]byte, error) {
		_, err := fn([]byte(s))
		return nil, err
	}
}

func logState(log *zap.Logger, msg string, buf *ringbuf.Buffer) {
	fields := []zap.Field{
		zap.Int("used", buf.UsedSpace()),
		zap.Int("available", buf.AvailableSpace()),
		zap.Int("dist_to_end", buf.DistToEnd()),
		zap.ByteString("storage", buf.Storage()),
	}
	if start, end, ok := buf.Span(); ok {
		fields = append(fields, zap.Int("start", start), zap.Int("end", end))
	} else {
		fields = append(fields, zap.Bool("empty", true))
	}
	log.Info(msg, fields...)
}
