package mapping

import (
	"errors"
	"fmt"
	"time"

	"github.com/riverwatch/go-ingest/pkg/decode"
)

// FieldType declares the storage type a mapped field is coerced to.
type FieldType string

const (
	FieldFloat  FieldType = "float"
	FieldInt    FieldType = "int"
	FieldBool   FieldType = "bool"
	FieldString FieldType = "string"
)

// Rule associates a topic pattern with a decode format and the record-to-point
// translation. Rules are validated once at startup and never mutated
// afterwards.
type Rule struct {
	// Name identifies the rule in logs and errors.
	Name string `yaml:"name"`
	// TopicPattern is an MQTT-style filter ("sensors/+", "sensors/#").
	TopicPattern string `yaml:"topic_pattern"`
	// Format selects the payload decoder for matching messages.
	Format decode.Format `yaml:"format"`
	// Measurement names the time-series measurement points are written to.
	Measurement string `yaml:"measurement"`
	// Tags maps tag names to values. A value may reference record fields
	// with {name} placeholders; {source} resolves to the record source id.
	Tags map[string]string `yaml:"tags"`
	// Fields selects which record fields become point fields, coerced to the
	// declared type. When empty, every record field passes through with its
	// native type.
	Fields map[string]FieldType `yaml:"fields"`
	// TimestampField names the record field carrying the reading timestamp.
	// When empty the receive time is used.
	TimestampField string `yaml:"timestamp_field"`
	// TimestampLayout is a Go time layout, or one of "unix", "unix_ms",
	// "unix_ns" for numeric timestamps. Required when TimestampField names a
	// string field.
	TimestampLayout string `yaml:"timestamp_layout"`
	// TimestampLocation is the IANA timezone the layout is parsed in.
	// Defaults to UTC.
	TimestampLocation string `yaml:"timestamp_location"`
}

// Validate checks the rule is complete enough to map records with.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return errors.New("rule has no name")
	}
	if r.TopicPattern == "" {
		return fmt.Errorf("rule %q has no topic pattern", r.Name)
	}
	if _, err := decode.ForFormat(r.Format); err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	if r.Measurement == "" {
		return fmt.Errorf("rule %q has no measurement", r.Name)
	}
	for name, ft := range r.Fields {
		switch ft {
		case FieldFloat, FieldInt, FieldBool, FieldString:
		default:
			return fmt.Errorf("rule %q: field %q has unknown type %q", r.Name, name, ft)
		}
	}
	if r.TimestampLocation != "" {
		if _, err := time.LoadLocation(r.TimestampLocation); err != nil {
			return fmt.Errorf("rule %q: invalid timestamp location: %w", r.Name, err)
		}
	}
	return nil
}

// RuleSet is an ordered collection of validated rules.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet validates the given rules and returns them as a lookup set.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	if len(rules) == 0 {
		return nil, errors.New("at least one mapping rule is required")
	}
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &RuleSet{rules: rules}, nil
}

// Match returns the first rule whose topic pattern matches the topic.
func (s *RuleSet) Match(topic string) (*Rule, bool) {
	for i := range s.rules {
		if MatchTopic(s.rules[i].TopicPattern, topic) {
			return &s.rules[i], true
		}
	}
	return nil, false
}

// Rules returns the rules in match order.
func (s *RuleSet) Rules() []Rule {
	return s.rules
}
