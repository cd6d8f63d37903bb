// Package live receives "slots changed" push notifications and triggers a
// full grid refetch. The payload is not consumed beyond its metadata: every
// signal means the same thing, fetch again and replace.
package live

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NotifyFunc is invoked once per received change signal.
type NotifyFunc func(ctx context.Context)

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

type Bridge struct {
	reader *kafka.Reader
	logger *slog.Logger
	notify NotifyFunc
}

func New(logger *slog.Logger, cfg Config, notify NotifyFunc) *Bridge {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Bridge{reader: reader, logger: logger, notify: notify}
}

// Run consumes until ctx is cancelled. Read errors are logged and retried
// after a short pause; the channel self-heals on the next successful push.
func (b *Bridge) Run(ctx context.Context) {
	defer b.reader.Close()

	for {
		msg, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("live channel read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		spanCtx, span := otel.Tracer("live").Start(ctx, "slots.changed",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)
		b.logger.Info("slot change signal", "event_id", eventID(msg), "topic", msg.Topic)
		b.notify(spanCtx)
		span.End()
	}
}

func eventID(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == "event_id" {
			return string(h.Value)
		}
	}
	return string(msg.Key)
}
