package decode

import (
	"encoding/json"
	"strconv"
	"strings"
)

// JSONDecoder decodes a JSON object into one record, or a JSON array of
// objects into one record per element. Nested objects are flattened into
// underscore-joined field names so the values remain storable as plain
// time-series fields.
type JSONDecoder struct{}

// Decode implements the Decoder interface.
func (d *JSONDecoder) Decode(topic string, payload []byte) ([]Record, int, error) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, 0, newError(FormatJSON, "invalid JSON: %v", err)
	}

	sourceID := sourceFromTopic(topic)

	switch v := raw.(type) {
	case map[string]any:
		rec, ok := objectToRecord(sourceID, v)
		if !ok {
			return nil, 0, newError(FormatJSON, "object contains no usable fields")
		}
		return []Record{rec}, 0, nil
	case []any:
		records := make([]Record, 0, len(v))
		dropped := 0
		for _, elem := range v {
			obj, isObj := elem.(map[string]any)
			if !isObj {
				dropped++
				continue
			}
			rec, ok := objectToRecord(sourceID, obj)
			if !ok {
				dropped++
				continue
			}
			records = append(records, rec)
		}
		if len(records) == 0 {
			return nil, dropped, newError(FormatJSON, "array contains no decodable readings")
		}
		return records, dropped, nil
	default:
		return nil, 0, newError(FormatJSON, "payload is neither an object nor an array")
	}
}

// objectToRecord flattens one JSON object into a Record. It reports false
// when the object yields no fields at all.
func objectToRecord(sourceID string, obj map[string]any) (Record, bool) {
	fields := make(map[string]any)
	flattenInto("", obj, fields)
	if len(fields) == 0 {
		return Record{}, false
	}
	return Record{SourceID: sourceID, Fields: fields}, true
}

// flattenInto walks nested objects, joining key paths with "_". Arrays of
// scalars collapse to a comma-joined string, matching what the storage engine
// can hold in a single field.
func flattenInto(prefix string, v any, out map[string]any) {
	key := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "_" + k
	}
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			flattenInto(key(k), val, out)
		}
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, scalarString(item))
		}
		out[prefix] = strings.Join(parts, ",")
	case float64, bool, string:
		out[prefix] = t
	case nil:
		// Null fields carry no value worth storing.
	default:
		out[prefix] = scalarString(t)
	}
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
