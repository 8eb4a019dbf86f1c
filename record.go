package shardpager

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"
)

// Field is a single named value of a Record. Value holds the raw JSON encoding.
type Field struct {
	Name  string
	Value json.RawMessage
}

// NewField creates a field named name whose value is the JSON encoding of value.
func NewField(name string, value any) (Field, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Field{}, fmt.Errorf("failed to encode field %q: %w", name, err)
	}
	return Field{Name: name, Value: data}, nil
}

// MustField is like NewField but panics if value cannot be encoded.
func MustField(name string, value any) Field {
	f, err := NewField(name, value)
	if err != nil {
		panic(err)
	}
	return f
}

// Record is a structured document retrieved from a partition.
// Field order is preserved through decoding and encoding; CSV column
// order follows it.
type Record struct {
	Fields []Field
}

// NewRecord creates a record from the given fields, in order.
func NewRecord(fields ...Field) Record {
	return Record{Fields: fields}
}

// ParseRecord decodes a JSON object into a Record.
func ParseRecord(data []byte) (Record, error) {
	var r Record
	if err := r.UnmarshalJSON(data); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.Fields) }

// Names returns the field names in order.
func (r Record) Names() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Name
	}
	return names
}

// Get returns the raw value of the first field called name.
func (r Record) Get(name string) (json.RawMessage, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Text returns the scalar rendering of the named field, or "" when the
// field is missing.
func (r Record) Text(name string) string {
	v, ok := r.Get(name)
	if !ok {
		return ""
	}
	return valueText(v)
}

// Texts returns the scalar rendering of every field, in order.
func (r Record) Texts() []string {
	texts := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		texts[i] = valueText(f.Value)
	}
	return texts
}

// valueText renders strings unescaped, null as empty and everything else
// as its JSON text.
func valueText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	value, dataType, _, err := jsonparser.Get(raw)
	if err != nil {
		return string(raw)
	}
	switch dataType {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return string(value)
		}
		return s
	case jsonparser.Null:
		return ""
	default:
		return string(value)
	}
}

// MarshalJSON encodes the record as a JSON object keeping field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		if len(f.Value) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(f.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping the order of its keys.
func (r *Record) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		r.Fields = nil
		return nil
	}
	fields := make([]Field, 0, 8)
	err := jsonparser.ObjectEach(trimmed, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		raw := make([]byte, 0, len(value)+2)
		if dataType == jsonparser.String {
			// jsonparser strips the quotes but leaves escapes intact.
			raw = append(raw, '"')
			raw = append(raw, value...)
			raw = append(raw, '"')
		} else {
			raw = append(raw, value...)
		}
		fields = append(fields, Field{Name: string(key), Value: raw})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	r.Fields = fields
	return nil
}
