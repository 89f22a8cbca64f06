package progress

import "context"

// Sink consumes batches of events. Consume may be called concurrently with
// nothing else on the same sink; it must honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts individual events without blocking.
type Emitter interface {
	Emit(evt Event)
}
