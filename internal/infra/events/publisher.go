package events

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"course-billing/internal/config"
	"course-billing/internal/domain/ports/adapter"
)

// New picks the publisher for cfg.Driver.
func New(ctx context.Context, cfg config.EventsConfig, logger *zerolog.Logger) (adapter.EventPublisher, error) {
	switch cfg.Driver {
	case "", "none":
		return NewLogPublisher(logger), nil
	case "sqs":
		return NewSQSPublisher(ctx, cfg)
	case "kafka":
		return NewKafkaPublisher(cfg)
	default:
		return nil, fmt.Errorf("unsupported events driver %q", cfg.Driver)
	}
}
