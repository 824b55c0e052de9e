// Command stager consumes payloads from a Kafka topic, stages them in a ring buffer and
// republishes them to another topic in bounded batches.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/ttd2089/ring-staging-poc/internal/config"
	"github.com/ttd2089/ring-staging-poc/internal/logging"
	"github.com/ttd2089/ring-staging-poc/internal/messages"
	"github.com/ttd2089/ring-staging-poc/internal/stage"
)

type appConfig struct {
	HTTPPort         string        `config_key:"http.listen-port" config_default:"8080"`
	BootstrapServers string        `config_key:"kafka.bootstrap-servers"`
	ConsumerGroupID  string        `config_key:"kafka.consumer.group-id" config_default:"stager"`
	ConsumeTopic     string        `config_key:"kafka.consumer.topic" config_default:"telemetry"`
	ProduceTopic     string        `config_key:"kafka.producer.topic" config_default:"telemetry-batches"`
	Capacity         int           `config_key:"stage.capacity" config_default:"65536"`
	ChunkSize        int           `config_key:"stage.chunk-size" config_default:"4096"`
	Policy           string        `config_key:"stage.policy" config_default:"overwrite"`
	FlushInterval    time.Duration `config_key:"stage.flush-interval" config_default:"1s"`
	LogMode          string        `config_key:"log.mode" config_default:"prod"`
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

	cfg, err := config.Parse[appConfig](config.ForCommand("stager"))
	if err != nil {
		return fmt.Errorf("parse app config: %v", err)
	}

	log, err := logging.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer log.Sync()

	policy, err := stage.ParsePolicy(cfg.Policy)
	if err != nil {
		return err
	}

	stager, err := stage.New(stage.Config{
		Capacity:      cfg.Capacity,
		ChunkSize:     cfg.ChunkSize,
		Policy:        policy,
		FlushInterval: cfg.FlushInterval,
	}, log)
	if err != nil {
		return fmt.Errorf("create stager: %w", err)
	}
	defer stager.Close()

	statsServer := newStatsServer(fmt.Sprintf(":%s", cfg.HTTPPort), stager, log)
	defer func() {
		// The signal context is already done here, so give shutdown its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := statsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown stats server", zap.Error(err))
		}
	}()

	consumer, err := buildConsumer(cfg, stager.ID(), log)
	if err != nil {
		return fmt.Errorf("build Kafka consumer: %v", err)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			log.Error("close consumer", zap.Error(err))
		}
	}()

	producer, err := buildProducer(cfg, stager.ID(), log)
	if err != nil {
		return fmt.Errorf("build Kafka producer: %v", err)
	}
	defer producer.Close()

	log.Info("staging",
		zap.String("stager_id", stager.ID()),
		zap.String("from", cfg.ConsumeTopic),
		zap.String("to", cfg.ProduceTopic),
		zap.Int("capacity", cfg.Capacity),
		zap.String("policy", cfg.Policy))

	runErr := stager.Run(ctx, consumer, producer)
	log.Info("stager stopped", stager.Stats().Fields()...)
	return runErr
}

type kafkaConsumer struct {
	kc  *kafka.Consumer
	log *zap.Logger
}

func (kc kafkaConsumer) Close() error {
	return kc.kc.Close()
}

func (kc kafkaConsumer) Consume(ctx context.Context) ([]byte, error) {
	for !isCancelled(ctx) {
		event := kc.kc.Poll(50)
		switch event := event.(type) {
		case *kafka.Message:
			return event.Value, nil
		case kafka.PartitionEOF:
			<-time.After(time.Second)
		case kafka.Error:
			kc.log.Error("consume", zap.Error(event))
		}
	}

	return nil, ctx.Err()
}

func buildConsumer(cfg appConfig, clientID string, log *zap.Logger) (kafkaConsumer, error) {

	kc, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"group.id":           cfg.ConsumerGroupID,
		"client.id":          clientID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": "true",
	})
	if err != nil {
		return kafkaConsumer{}, fmt.Errorf("create Kafka consumer: %w", err)
	}

	err = kc.Subscribe(cfg.ConsumeTopic, func(c *kafka.Consumer, e kafka.Event) error {
		log.Info("rebalance", zap.Stringer("event", e))
		return nil
	})
	if err != nil {
		return kafkaConsumer{}, fmt.Errorf("subscribe: %w", err)
	}

	return kafkaConsumer{
		kc:  kc,
		log: log,
	}, nil
}

type kafkaProducer struct {
	kp    *kafka.Producer
	topic string
	done  chan struct{}
}

func (p kafkaProducer) Publish(_ context.Context, batch messages.Batch) error {
	value, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	return p.kp.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &p.topic,
			Partition: kafka.PartitionAny,
		},
		Key:       []byte(batch.StagerID),
		Value:     value,
		Timestamp: time.Now(),
	}, nil)
}

func (p kafkaProducer) Close() {
	p.kp.Flush(5000)
	p.kp.Close()
	<-p.done
}

func buildProducer(cfg appConfig, clientID string, log *zap.Logger) (kafkaProducer, error) {
	kp, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.BootstrapServers,
		"client.id":         clientID,
	})
	if err != nil {
		return kafkaProducer{}, fmt.Errorf("create Kafka producer: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range kp.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					log.Error("deliver batch", zap.Error(ev.TopicPartition.Error))
				}
			}
		}
	}()

	return kafkaProducer{
		kp:    kp,
		topic: cfg.ProduceTopic,
		done:  done,
	}, nil
}

func isCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
