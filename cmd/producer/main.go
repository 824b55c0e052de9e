// Command producer publishes synthetic telemetry to the stager's input topic. Readings go
// out in bursts, capped by a sliding-window rate limit, so a run can be tuned to keep the
// stager's buffer comfortable or to overflow it.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/ttd2089/ring-staging-poc/internal/config"
	"github.com/ttd2089/ring-staging-poc/internal/logging"
)

type appConfig struct {
	BootstrapServers string        `config_key:"kafka.bootstrap-servers"`
	ProduceTopic     string        `config_key:"kafka.producer.topic" config_default:"telemetry"`
	MaxRPS           int           `config_key:"producer.max-rps" config_default:"1000"`
	Sensors          int           `config_key:"producer.sensors" config_default:"4"`
	Format           string        `config_key:"producer.format" config_default:"json"`
	PayloadSize      int           `config_key:"producer.payload-size" config_default:"0"`
	Burst            int           `config_key:"producer.burst" config_default:"100"`
	Pause            time.Duration `config_key:"producer.pause" config_default:"500ms"`
	LogMode          string        `config_key:"log.mode" config_default:"dev"`
}

func main() {
	if err := run(); err != nil {
		fmt.Printf("fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Parse[appConfig](config.ForCommand("producer"))
	if err != nil {
		return fmt.Errorf("parse app config: %v", err)
	}

	log, err := logging.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer log.Sync()

	limiter, err := newWindowLimiter(cfg.MaxRPS, time.Second)
	if err != nil {
		return fmt.Errorf("build rate limiter: %w", err)
	}

	gen, err := newGenerator(cfg.Sensors, cfg.Format, cfg.PayloadSize, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		return fmt.Errorf("build payload generator: %w", err)
	}

	kp, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.BootstrapServers,
	})
	if err != nil {
		return fmt.Errorf("create Kafka producer: %w", err)
	}
	delivered := reportDeliveries(kp, log)
	defer func() {
		kp.Flush(5000)
		kp.Close()
		<-delivered
	}()

	log.Info("producing",
		zap.String("topic", cfg.ProduceTopic),
		zap.Strings("sensors", gen.sensors),
		zap.String("format", cfg.Format),
		zap.Int("burst", cfg.Burst))

	for ctx.Err() == nil {
		for i := 0; i < max(1, cfg.Burst) && ctx.Err() == nil; i++ {
			if delay := limiter.Delay(time.Now()); delay > 0 {
				log.Debug("delaying for rate limit", zap.Duration("delay", delay))
				if !sleep(ctx, delay) {
					break
				}
			}

			sentAt := time.Now()
			payload, err := gen.Next(sentAt)
			if err != nil {
				return err
			}
			err = kp.Produce(&kafka.Message{
				TopicPartition: kafka.TopicPartition{
					Topic:     &cfg.ProduceTopic,
					Partition: kafka.PartitionAny,
				},
				Value:     payload,
				Timestamp: sentAt,
			}, nil)
			if err != nil {
				log.Error("produce reading", zap.Error(err))
				continue
			}
			if err := limiter.Record(sentAt); err != nil {
				return err
			}
		}
		sleep(ctx, cfg.Pause)
	}

	return nil
}

// reportDeliveries logs failed deliveries until the producer is closed. The returned channel
// is closed once the producer's event channel is drained.
func reportDeliveries(kp *kafka.Producer, log *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range kp.Events() {
			if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
				log.Error("deliver reading", zap.Error(m.TopicPartition.Error))
			}
		}
	}()
	return done
}

// sleep waits for d and reports whether it did so before ctx was done.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
