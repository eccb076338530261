package progress

import "context"

// Sink consumes batches of deliveries. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Delivery) error
	Close(ctx context.Context) error
}

// Emitter publishes individual deliveries; Hub satisfies this interface so
// the Bus stays agnostic about how deliveries are observed.
type Emitter interface {
	Emit(d Delivery)
}
