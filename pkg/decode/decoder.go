// Package decode turns raw message payloads into canonical sensor records.
// The supported wire formats form a closed set selected by the mapping rule
// for the message's topic, so dispatch is a plain constructor switch rather
// than anything reflective.
package decode

import (
	"fmt"
	"strings"
)

// Format identifies one of the supported payload encodings.
type Format string

const (
	// FormatJSON decodes a JSON object, or a JSON array of objects where
	// each element is an independent reading.
	FormatJSON Format = "json"
	// FormatDelimited decodes newline-separated readings of comma-separated
	// key=value pairs, e.g. "temp=21.5,ph=7.1".
	FormatDelimited Format = "delimited"
	// FormatBinary decodes one or more fixed-layout binary frames.
	FormatBinary Format = "binary"
)

// Decoder converts a raw payload into canonical records.
//
// Decode returns the successfully decoded records together with the number of
// malformed sub-readings that were skipped. It returns an *Error only when
// nothing in the payload could be decoded; one bad reading inside a payload
// must never discard its valid siblings.
//
// Implementations are pure: no I/O, no shared state, and identical input
// always yields identical output.
type Decoder interface {
	Decode(topic string, payload []byte) ([]Record, int, error)
}

// ForFormat returns the decoder for the given format. The format set is
// closed; an unknown format is a configuration error.
func ForFormat(f Format) (Decoder, error) {
	switch f {
	case FormatJSON:
		return &JSONDecoder{}, nil
	case FormatDelimited:
		return &DelimitedDecoder{}, nil
	case FormatBinary:
		return &BinaryDecoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported payload format %q", f)
	}
}

// sourceFromTopic derives the source identifier from the final topic level.
func sourceFromTopic(topic string) string {
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
