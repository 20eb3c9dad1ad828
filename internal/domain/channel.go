package domain

import "context"

// Channel is the uniform platform adapter: it receives messages from one
// platform (publishing them to the bus) and sends replies back out.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, recipientID string, text string) error
}

// Sender is the outbound half of a Channel, which is all the dispatch
// queue needs to hand off a finished reply.
type Sender interface {
	Send(ctx context.Context, recipientID string, text string) error
}

// HealthReporter is an optional Channel extension for adapters that can
// report their connection state (used by the status command and /api/health).
type HealthReporter interface {
	Healthy(ctx context.Context) error
}
