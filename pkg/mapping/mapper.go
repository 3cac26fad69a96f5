package mapping

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/riverwatch/go-ingest/pkg/decode"
)

// Map translates one canonical record into storage points under the given
// rule. It is deterministic: identical inputs always produce identical
// points. receivedAt is the message receive time, used when neither the rule
// nor the wire format supplies a reading timestamp.
func Map(rec decode.Record, rule *Rule, receivedAt time.Time) ([]Point, TimestampSource, error) {
	ts, source, err := resolveTimestamp(rec, rule, receivedAt)
	if err != nil {
		return nil, source, err
	}

	tags, err := resolveTags(rec, rule)
	if err != nil {
		return nil, source, err
	}

	fields, err := resolveFields(rec, rule)
	if err != nil {
		return nil, source, err
	}

	point := Point{
		Measurement: rule.Measurement,
		Tags:        tags,
		Fields:      fields,
		Timestamp:   ts,
	}
	if err := point.Validate(); err != nil {
		return nil, source, newError(rule.Name, "%v", err)
	}
	return []Point{point}, source, nil
}

// resolveTimestamp applies the timestamp policy: a rule-designated payload
// field first, then a wire-format timestamp, then the receive time.
func resolveTimestamp(rec decode.Record, rule *Rule, receivedAt time.Time) (time.Time, TimestampSource, error) {
	if rule.TimestampField != "" {
		raw, ok := rec.Fields[rule.TimestampField]
		if ok {
			ts, err := parseTimestamp(raw, rule)
			if err != nil {
				return time.Time{}, TimestampReceive, err
			}
			return ts, TimestampPayload, nil
		}
		// The designated field is absent from this reading; fall through to
		// the receive-time default rather than rejecting the reading.
	}
	if !rec.Timestamp.IsZero() {
		return rec.Timestamp, TimestampPayload, nil
	}
	return receivedAt, TimestampReceive, nil
}

func parseTimestamp(raw any, rule *Rule) (time.Time, error) {
	switch rule.TimestampLayout {
	case "unix":
		sec, err := numericTimestamp(raw)
		if err != nil {
			return time.Time{}, newError(rule.Name, "timestamp field %q: %v", rule.TimestampField, err)
		}
		return time.Unix(sec, 0).UTC(), nil
	case "unix_ms":
		ms, err := numericTimestamp(raw)
		if err != nil {
			return time.Time{}, newError(rule.Name, "timestamp field %q: %v", rule.TimestampField, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	case "unix_ns":
		ns, err := numericTimestamp(raw)
		if err != nil {
			return time.Time{}, newError(rule.Name, "timestamp field %q: %v", rule.TimestampField, err)
		}
		return time.Unix(0, ns).UTC(), nil
	case "":
		return time.Time{}, newError(rule.Name, "timestamp field %q is set but no layout is configured", rule.TimestampField)
	default:
		s, ok := raw.(string)
		if !ok {
			return time.Time{}, newError(rule.Name, "timestamp field %q is not a string", rule.TimestampField)
		}
		loc := time.UTC
		if rule.TimestampLocation != "" {
			// Validated at startup; LoadLocation cannot fail here.
			loc, _ = time.LoadLocation(rule.TimestampLocation)
		}
		ts, err := time.ParseInLocation(rule.TimestampLayout, s, loc)
		if err != nil {
			return time.Time{}, newError(rule.Name, "timestamp field %q: %v", rule.TimestampField, err)
		}
		return ts.UTC(), nil
	}
}

func numericTimestamp(raw any) (int64, error) {
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, strconv.ErrSyntax
	}
}

// resolveTags renders the rule's tag templates against the record. Tag values
// are always coerced to strings; a template referencing a missing field is a
// mapping error, a tag that renders empty is dropped.
func resolveTags(rec decode.Record, rule *Rule) (map[string]string, error) {
	tags := make(map[string]string, len(rule.Tags))
	for name, tmpl := range rule.Tags {
		value, err := renderTemplate(tmpl, rec, rule)
		if err != nil {
			return nil, err
		}
		if value != "" {
			tags[name] = value
		}
	}
	return tags, nil
}

func renderTemplate(tmpl string, rec decode.Record, rule *Rule) (string, error) {
	var out strings.Builder
	rest := tmpl
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		closing := strings.Index(rest[open:], "}")
		if closing < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		out.WriteString(rest[:open])
		ref := rest[open+1 : open+closing]
		rest = rest[open+closing+1:]

		if ref == "source" {
			out.WriteString(rec.SourceID)
			continue
		}
		raw, ok := rec.Fields[ref]
		if !ok {
			return "", newError(rule.Name, "tag template references missing field %q", ref)
		}
		out.WriteString(tagString(raw))
	}
}

func tagString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}

// resolveFields selects and coerces the record fields. Field values keep
// their native type so the storage engine preserves precision.
func resolveFields(rec decode.Record, rule *Rule) (map[string]any, error) {
	if len(rule.Fields) == 0 {
		fields := make(map[string]any, len(rec.Fields))
		for k, v := range rec.Fields {
			if k == rule.TimestampField {
				continue
			}
			fields[k] = v
		}
		if len(fields) == 0 {
			return nil, newError(rule.Name, "record has no fields beyond the timestamp")
		}
		return fields, nil
	}

	fields := make(map[string]any, len(rule.Fields))
	for name, ft := range rule.Fields {
		raw, ok := rec.Fields[name]
		if !ok {
			return nil, newError(rule.Name, "record is missing mapped field %q", name)
		}
		value, err := coerceField(raw, ft)
		if err != nil {
			return nil, newError(rule.Name, "field %q: %v", name, err)
		}
		fields[name] = value
	}
	return fields, nil
}

func coerceField(raw any, ft FieldType) (any, error) {
	switch ft {
	case FieldFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case string:
			return strconv.ParseFloat(v, 64)
		case bool:
			if v {
				return 1.0, nil
			}
			return 0.0, nil
		}
	case FieldInt:
		switch v := raw.(type) {
		case float64:
			if v != math.Trunc(v) {
				return nil, strconv.ErrSyntax
			}
			return int64(v), nil
		case string:
			return strconv.ParseInt(v, 10, 64)
		}
	case FieldBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(v)
		}
	case FieldString:
		return tagString(raw), nil
	}
	return nil, strconv.ErrSyntax
}
