// Package mapping translates canonical sensor records into storage-ready
// time-series points, driven by per-topic mapping rules supplied through
// configuration.
package mapping

import (
	"errors"
	"fmt"
	"time"
)

// Point is the unit written to the time-series sink.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Timestamp   time.Time
}

// Validate enforces the point invariant: a non-empty measurement and at
// least one field.
func (p *Point) Validate() error {
	if p.Measurement == "" {
		return errors.New("point has an empty measurement name")
	}
	if len(p.Fields) == 0 {
		return fmt.Errorf("point %q has no fields", p.Measurement)
	}
	return nil
}

// TimestampSource reports which policy produced a point's timestamp.
type TimestampSource int

const (
	// TimestampReceive means the point uses the message receive time.
	TimestampReceive TimestampSource = iota
	// TimestampPayload means the point uses a timestamp embedded in the payload.
	TimestampPayload
)

func (s TimestampSource) String() string {
	if s == TimestampPayload {
		return "payload"
	}
	return "receive"
}

// Error reports a record that could not be mapped under its rule.
type Error struct {
	Rule   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("mapping rule %q: %s", e.Rule, e.Reason)
}

func newError(rule, reason string, args ...any) *Error {
	return &Error{Rule: rule, Reason: fmt.Sprintf(reason, args...)}
}
