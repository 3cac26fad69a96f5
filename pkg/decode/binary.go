package decode

import (
	"encoding/binary"
	"math"
	"time"
)

// BinaryDecoder decodes fixed-layout binary frames. A payload may concatenate
// several frames, each an independent reading.
//
// Frame layout (big-endian):
//
//	byte    0     version (currently 1)
//	bytes 1-8     reading timestamp, int64 unix nanoseconds, 0 if absent
//	byte    9     field count, >= 1
//	per field:    1-byte name length, name bytes, 1-byte type tag,
//	              then the value: float64 (8 bytes), bool (1 byte) or
//	              string (2-byte length prefix + bytes)
type BinaryDecoder struct{}

const binaryFrameVersion = 1

// Field type tags.
const (
	binaryFieldFloat byte = iota
	binaryFieldBool
	binaryFieldString
)

// Decode implements the Decoder interface. A corrupt frame after at least one
// valid frame drops the remainder of the payload with a count; a corrupt
// first frame fails the whole payload.
func (d *BinaryDecoder) Decode(topic string, payload []byte) ([]Record, int, error) {
	if len(payload) == 0 {
		return nil, 0, newError(FormatBinary, "empty payload")
	}

	sourceID := sourceFromTopic(topic)
	var records []Record
	rest := payload

	for len(rest) > 0 {
		rec, remaining, err := decodeFrame(sourceID, rest)
		if err != nil {
			if len(records) == 0 {
				return nil, 0, err
			}
			// Valid frames were already decoded; the undecodable tail is one
			// dropped reading, not a payload failure.
			return records, 1, nil
		}
		records = append(records, rec)
		rest = remaining
	}
	return records, 0, nil
}

func decodeFrame(sourceID string, buf []byte) (Record, []byte, error) {
	if len(buf) < 10 {
		return Record{}, nil, newError(FormatBinary, "truncated frame header")
	}
	if buf[0] != binaryFrameVersion {
		return Record{}, nil, newError(FormatBinary, "unsupported frame version %d", buf[0])
	}

	var ts time.Time
	if nanos := int64(binary.BigEndian.Uint64(buf[1:9])); nanos != 0 {
		ts = time.Unix(0, nanos).UTC()
	}

	fieldCount := int(buf[9])
	if fieldCount == 0 {
		return Record{}, nil, newError(FormatBinary, "frame declares zero fields")
	}

	rest := buf[10:]
	fields := make(map[string]any, fieldCount)
	for i := 0; i < fieldCount; i++ {
		var (
			name  string
			value any
			err   error
		)
		name, value, rest, err = decodeField(rest)
		if err != nil {
			return Record{}, nil, err
		}
		fields[name] = value
	}

	return Record{SourceID: sourceID, Timestamp: ts, Fields: fields}, rest, nil
}

func decodeField(buf []byte) (string, any, []byte, error) {
	if len(buf) < 1 {
		return "", nil, nil, newError(FormatBinary, "truncated field name length")
	}
	nameLen := int(buf[0])
	buf = buf[1:]
	if nameLen == 0 || len(buf) < nameLen+1 {
		return "", nil, nil, newError(FormatBinary, "truncated field name")
	}
	name := string(buf[:nameLen])
	typeTag := buf[nameLen]
	buf = buf[nameLen+1:]

	switch typeTag {
	case binaryFieldFloat:
		if len(buf) < 8 {
			return "", nil, nil, newError(FormatBinary, "truncated float value for %q", name)
		}
		bits := binary.BigEndian.Uint64(buf[:8])
		return name, math.Float64frombits(bits), buf[8:], nil
	case binaryFieldBool:
		if len(buf) < 1 {
			return "", nil, nil, newError(FormatBinary, "truncated bool value for %q", name)
		}
		return name, buf[0] != 0, buf[1:], nil
	case binaryFieldString:
		if len(buf) < 2 {
			return "", nil, nil, newError(FormatBinary, "truncated string length for %q", name)
		}
		strLen := int(binary.BigEndian.Uint16(buf[:2]))
		buf = buf[2:]
		if len(buf) < strLen {
			return "", nil, nil, newError(FormatBinary, "truncated string value for %q", name)
		}
		return name, string(buf[:strLen]), buf[strLen:], nil
	default:
		return "", nil, nil, newError(FormatBinary, "unknown field type tag %d for %q", typeTag, name)
	}
}
