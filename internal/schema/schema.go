// Package schema implements RACER's runtime message-field validator (spec
// §6, §9): the core only ever sees opaque payload bytes, but applications
// without a compile-time schema→struct generator can describe their payload
// shape at runtime and validate against it before publish.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// FieldType is one of the field types spec §6 names as recognized by the
// message schema file.
type FieldType string

const (
	TypeF64         FieldType = "f64"
	TypeI64         FieldType = "i64"
	TypeU64         FieldType = "u64"
	TypeBool        FieldType = "bool"
	TypeString      FieldType = "string"
	TypeFixedBytes  FieldType = "bytes"
)

// Field describes one message field: (name, type, min?, max?), mirroring
// original_source/crates/racer-macros/src/types.rs's field catalog, narrowed
// to the subset spec §6 actually names.
type Field struct {
	Name   string    `toml:"name"`
	Type   FieldType `toml:"type"`
	Min    *float64  `toml:"min,omitempty"`
	Max    *float64  `toml:"max,omitempty"`
	Length int       `toml:"length,omitempty"` // for Type == bytes; 0 skips the length check
}

// Message describes a schema-file message: its name and ordered fields.
type Message struct {
	Name   string  `toml:"name"`
	Fields []Field `toml:"fields"`
}

// fileFormat mirrors the `[message]` + repeated `[[message.fields]]` TOML
// shape spec §6 names for the schema file.
type fileFormat struct {
	Message Message `toml:"message"`
}

// LoadFile parses a message schema TOML file into a runtime validator.
func LoadFile(path string) (*Message, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	var f fileFormat
	if err := toml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("schema: parse %s: %w", path, err)
	}
	if f.Message.Name == "" {
		return nil, fmt.Errorf("schema: %s: missing [message] table", path)
	}
	return &f.Message, nil
}

// Kind enumerates the ways a field can fail validation, mirroring
// original_source/crates/racer-core/src/validation.rs's ValidationKind.
type Kind string

const (
	KindRequired  Kind = "required"
	KindMinValue  Kind = "min_value"
	KindMaxValue  Kind = "max_value"
	KindWrongType Kind = "wrong_type"
	KindLength    Kind = "length"
)

// ValidationError reports one field's validation failure.
type ValidationError struct {
	Field string
	Kind  Kind
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

func required(field string) *ValidationError {
	return &ValidationError{Field: field, Kind: KindRequired, Msg: fmt.Sprintf("field %q is required", field)}
}

func minValue(field string, min, actual float64) *ValidationError {
	return &ValidationError{
		Field: field, Kind: KindMinValue,
		Msg: fmt.Sprintf("field %q must be >= %v (got %v)", field, min, actual),
	}
}

func maxValue(field string, max, actual float64) *ValidationError {
	return &ValidationError{
		Field: field, Kind: KindMaxValue,
		Msg: fmt.Sprintf("field %q must be <= %v (got %v)", field, max, actual),
	}
}

func wrongType(field string, want FieldType) *ValidationError {
	return &ValidationError{
		Field: field, Kind: KindWrongType,
		Msg: fmt.Sprintf("field %q must be of type %s", field, want),
	}
}

func wrongLength(field string, want, got int) *ValidationError {
	return &ValidationError{
		Field: field, Kind: KindLength,
		Msg: fmt.Sprintf("field %q must have length %d (got %d)", field, want, got),
	}
}

// Validate checks payload (a JSON object, the application-level wire
// encoding of a schema'd message) against m's field descriptions. The core
// engine never calls this itself — spec §3 treats payloads as opaque once
// past the application boundary — but Node.Publish invokes it when the
// caller supplied a schema, per spec §6's "pre-publish validation error".
func (m *Message) Validate(payload []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("schema: payload is not a JSON object: %w", err)
	}

	for _, f := range m.Fields {
		raw, ok := fields[f.Name]
		if !ok {
			return required(f.Name)
		}
		if err := f.validateValue(raw); err != nil {
			return err
		}
	}
	return nil
}

func (f *Field) validateValue(raw json.RawMessage) error {
	switch f.Type {
	case TypeF64, TypeI64, TypeU64:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return wrongType(f.Name, f.Type)
		}
		if f.Type != TypeF64 && v != math.Trunc(v) {
			return wrongType(f.Name, f.Type)
		}
		if f.Type == TypeU64 && v < 0 {
			return wrongType(f.Name, f.Type)
		}
		if f.Min != nil && v < *f.Min {
			return minValue(f.Name, *f.Min, v)
		}
		if f.Max != nil && v > *f.Max {
			return maxValue(f.Name, *f.Max, v)
		}
		return nil
	case TypeBool:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return wrongType(f.Name, f.Type)
		}
		return nil
	case TypeString:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return wrongType(f.Name, f.Type)
		}
		return nil
	case TypeFixedBytes:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return wrongType(f.Name, f.Type)
		}
		if f.Length > 0 && len(v) != f.Length {
			return wrongLength(f.Name, f.Length, len(v))
		}
		return nil
	default:
		return fmt.Errorf("schema: unrecognized field type %q for field %q", f.Type, f.Name)
	}
}
