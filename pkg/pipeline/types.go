package pipeline

import (
	"time"
)

// TopicAttribute is the message attribute key under which every consumer
// records the originating topic. Rule lookup depends on it.
const TopicAttribute = "topic"

// Message is the internal representation of one raw message flowing through
// the pipeline, together with its acknowledgment handles. Ownership passes
// from the consumer to the pipeline on delivery; the consumer must not touch
// the payload afterwards.
type Message struct {
	MessageData

	// Attributes holds broker metadata. TopicAttribute is always present.
	Attributes map[string]string

	// Ack signals that the message's derived points were durably written and
	// the source may discard it. The coordinator calls it at most once.
	Ack func()

	// Nack signals that processing failed and the message should be
	// redelivered. Sources without an explicit negative acknowledgment
	// implement this as a no-op; withholding Ack already causes redelivery.
	Nack func()
}

// MessageData is the payload portion of a message.
type MessageData struct {
	// ID is the broker-assigned message identifier.
	ID string

	// Payload is the raw message body.
	Payload []byte

	// ReceivedAt is when the consumer took delivery of the message. It is
	// the fallback point timestamp for payloads without one of their own.
	ReceivedAt time.Time
}
