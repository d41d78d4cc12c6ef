package queue

import (
	"context"

	"github.com/scholarsentinel/diagram-forensics/internal/domain"
)

// Producer pushes accepted jobs onto a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Consumer pulls queued jobs and executes a handler per message.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error
}
