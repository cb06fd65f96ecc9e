package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"sentinelwatch/internal/config"
	"sentinelwatch/internal/metrics"
	"sentinelwatch/internal/model"
	"sentinelwatch/internal/normalize"
)

// KafkaSource consumes log events from a Kafka topic. Message values are
// JSON objects in the same shape the REST endpoint accepts.
type KafkaSource struct {
	cfgs   *config.Manager
	out    chan<- model.Event
	logger *slog.Logger
}

func NewKafkaSource(cfgs *config.Manager, out chan<- model.Event, logger *slog.Logger) *KafkaSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSource{cfgs: cfgs, out: out, logger: logger}
}

func (s *KafkaSource) Run(ctx context.Context) error {
	cfg := s.cfgs.Get().Ingest.Kafka
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	s.logger.Info("kafka ingest started", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			s.logger.Error("kafka read failed", "error", err)
			if !BackoffSleep(ctx, time.Second) {
				return nil
			}
			continue
		}
		fields, err := ParseJSONBytes(msg.Value)
		if err != nil {
			metrics.EventsRejected.Inc()
			s.logger.Warn("kafka message is not valid JSON", "offset", msg.Offset, "error", err)
			continue
		}
		fields.Raw = string(msg.Value)
		ev, err := normalize.Normalize(*fields, s.cfgs.Get())
		if err != nil {
			metrics.EventsRejected.Inc()
			s.logger.Warn("kafka event rejected", "offset", msg.Offset, "error", err)
			continue
		}
		ev.Source = "kafka"
		SendNonBlocking(ctx, s.out, ev, s.logger)
	}
}
