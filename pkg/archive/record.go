// Package archive stores raw message payloads as compressed JSONL objects in
// a cloud storage bucket. It is the cold path beside the time-series sink:
// whatever the decoders make of a payload later, the original bytes survive
// here for replay and audit.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/riverwatch/go-ingest/pkg/pipeline"
)

// Record is one archived message as written to a storage object.
type Record struct {
	ID         string    `json:"id"`
	BatchKey   string    `json:"batchKey"`
	Topic      string    `json:"topic"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"receivedAt"`
	ArchivedAt time.Time `json:"archivedAt"`
}

// GetBatchKey returns the key used for grouping records into objects.
func (r *Record) GetBatchKey() string {
	return r.BatchKey
}

// NewTransformer returns a MessageTransformer that wraps raw messages into
// archive records. The batch key is topic plus receive date, so one storage
// object never mixes topics or days.
func NewTransformer() pipeline.MessageTransformer[Record] {
	return func(_ context.Context, msg *pipeline.Message) (*Record, bool, error) {
		ts := msg.ReceivedAt
		if ts.IsZero() {
			ts = time.Now().UTC()
		}

		topic := msg.Attributes[pipeline.TopicAttribute]
		if topic == "" {
			topic = "unrouted"
		}
		batchKey := fmt.Sprintf("%s/%d/%02d/%02d", topic, ts.Year(), ts.Month(), ts.Day())

		return &Record{
			ID:         msg.ID,
			BatchKey:   batchKey,
			Topic:      topic,
			Payload:    msg.Payload,
			ReceivedAt: ts,
			ArchivedAt: time.Now().UTC(),
		}, false, nil
	}
}
