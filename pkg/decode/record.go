package decode

import (
	"fmt"
	"time"
)

// Record is the canonical, format-agnostic representation of a single sensor
// reading. Decoders produce Records and never mutate them afterwards; the
// mapping layer owns all further interpretation.
type Record struct {
	// SourceID identifies the originating sensor, derived from the final
	// level of the message topic (e.g. "sensors/dummy1" -> "dummy1").
	SourceID string

	// Timestamp is the reading time when the wire format itself carries one
	// (e.g. a binary frame header). It is left zero for formats where the
	// timestamp, if any, travels as an ordinary field; the mapper resolves
	// the final point timestamp either way.
	Timestamp time.Time

	// Fields holds the decoded values keyed by field name. Values are
	// float64, bool or string.
	Fields map[string]any
}

// Error reports a payload that could not be decoded at all. Partially valid
// payloads do not produce an Error: the valid readings are emitted and the
// malformed remainder is reported as a count.
type Error struct {
	Format Format
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("decode %s payload: %s", e.Format, e.Reason)
}

func newError(format Format, reason string, args ...any) *Error {
	return &Error{Format: format, Reason: fmt.Sprintf(reason, args...)}
}
