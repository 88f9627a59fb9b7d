package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"bioguard/internal/config"
	"bioguard/internal/model"
	"bioguard/internal/normalize"
)

// StartKafka consumes collector events from a kafka topic. Each message is
// one JSON event object.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.BehaviorEvent, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			fields, err := ParseJSONBytes(m.Value)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka payload not json", "err", err)
				}
				continue
			}
			ev, err := normalize.Event(fields)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka normalize error", "err", err)
				}
				continue
			}
			ev.Source = "kafka"
			SendNonBlocking(ctx, out, ev, logger)
		}
	}()
}
