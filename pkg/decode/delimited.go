package decode

import (
	"strconv"
	"strings"
)

// DelimitedDecoder decodes plain-text payloads where each line is one reading
// of comma-separated key=value pairs, e.g. "temp=21.5,ph=7.1". Values parse
// as float, then bool, then fall back to string.
type DelimitedDecoder struct{}

// Decode implements the Decoder interface.
func (d *DelimitedDecoder) Decode(topic string, payload []byte) ([]Record, int, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, 0, newError(FormatDelimited, "empty payload")
	}

	sourceID := sourceFromTopic(topic)
	var records []Record
	dropped := 0

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := parsePairs(line)
		if len(fields) == 0 {
			dropped++
			continue
		}
		records = append(records, Record{SourceID: sourceID, Fields: fields})
	}

	if len(records) == 0 {
		return nil, dropped, newError(FormatDelimited, "no decodable readings in payload")
	}
	return records, dropped, nil
}

// parsePairs extracts the key=value pairs from one line. Malformed pairs are
// skipped; a line with no valid pair at all counts as a dropped reading.
func parsePairs(line string) map[string]any {
	fields := make(map[string]any)
	for _, pair := range strings.Split(line, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, found := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if !found || k == "" || v == "" {
			continue
		}
		fields[k] = parseValue(v)
	}
	return fields
}

func parseValue(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
