package worker

import (
	"context"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/infra"
)

// EventPublisher announces print outcomes to kitchen displays.
type EventPublisher interface {
	Publish(ctx context.Context, ev infra.PrintEvent) error
}

// NopPublisher is used when AMQP_URL is empty.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, infra.PrintEvent) error { return nil }
