// Package pipeline provides the generic subscribe-transform-write machinery
// the ingestion services are assembled from: a consumer contract for message
// sources and a batching service that drives messages through a transformer
// into a batch processor.
package pipeline

import (
	"context"
)

// MessageConsumer is the contract between a message source (MQTT, Pub/Sub)
// and the pipeline. Delivery is at-least-once: a message whose Ack is never
// called will be redelivered by the source, so duplicate processing after a
// failure is expected and tolerated downstream.
type MessageConsumer interface {
	// Messages returns the bounded channel the source delivers into. When
	// the pipeline falls behind, the source blocks on this channel instead
	// of buffering without limit; that is the pipeline's backpressure point.
	Messages() <-chan Message
	// Start connects to the source and begins delivery.
	Start(ctx context.Context) error
	// Stop ceases delivery and releases the connection, honouring the
	// context deadline.
	Stop(ctx context.Context) error
	// Done is closed once the consumer has fully shut down.
	Done() <-chan struct{}
}

// MessageTransformer converts a raw message into the typed payload T carried
// through the rest of the pipeline. Returning skip=true acknowledges the
// message and drops it without further processing; returning an error nacks
// it for redelivery. Transformers must not perform the final write.
type MessageTransformer[T any] func(ctx context.Context, msg *Message) (payload *T, skip bool, err error)

// ProcessableItem pairs a transformed payload with its original message so
// batch processors can settle the acknowledgment once the write outcome is
// known.
type ProcessableItem[T any] struct {
	Original Message
	Payload  *T
}

// BatchProcessor handles one flushed batch. The implementation owns the
// acknowledgment of every message in the batch: Ack on durable write, Nack on
// failure. A returned error is logged by the batching service but does not
// change the acknowledgments already made.
type BatchProcessor[T any] func(ctx context.Context, batch []ProcessableItem[T]) error
