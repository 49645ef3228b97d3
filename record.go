package redrive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Field is one named value of a Record.
type Field struct {
	Name  string
	Value any
}

// Record is an ordered mapping of field name to value.
//
// Records are read-only once built: values returned by Get and Fields must not be mutated.
// A Record parsed from a payload that is not a JSON object is malformed and never validates.
type Record struct {
	fields    []Field
	index     map[string]int
	raw       []byte
	malformed string
}

// NewRecord builds a Record from fields in order. A repeated name keeps its first position
// and takes the last value.
func NewRecord(fields ...Field) Record {
	var r Record
	for _, f := range fields {
		r.set(f.Name, f.Value)
	}
	return r
}

// RecordFromMap builds a Record from an unordered map, ordering fields by name.
func RecordFromMap(values map[string]any) Record {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var r Record
	for _, name := range names {
		r.set(name, values[name])
	}
	return r
}

// ParseRecord decodes one JSON object, preserving field order. It never fails: payloads that
// are not a JSON object produce a malformed Record carrying the reason.
func ParseRecord(data []byte) Record {
	data = bytes.TrimSpace(data)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return malformedRecord(data, "invalid JSON: "+err.Error())
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return malformedRecord(data, "expected JSON object, got "+jsonKind(tok))
	}

	var r Record
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return malformedRecord(data, "invalid JSON: "+err.Error())
		}
		key, ok := keyTok.(string)
		if !ok {
			return malformedRecord(data, "invalid JSON: non-string key")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return malformedRecord(data, "invalid JSON: "+err.Error())
		}
		r.set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return malformedRecord(data, "invalid JSON: "+err.Error())
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return malformedRecord(data, "invalid JSON: trailing data after object")
	}
	return r
}

// ParseRecords decodes a JSON array of records in array order. Elements that are not objects
// become malformed Records; only a payload that is not an array is an error.
func ParseRecords(data []byte) ([]Record, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("redrive: parse records: expected JSON array: %w", err)
	}
	out := make([]Record, 0, len(elems))
	for _, elem := range elems {
		out = append(out, ParseRecord(elem))
	}
	return out, nil
}

func malformedRecord(raw []byte, reason string) Record {
	return Record{raw: append([]byte(nil), raw...), malformed: reason}
}

func jsonKind(tok json.Token) string {
	switch t := tok.(type) {
	case json.Delim:
		if t == '[' {
			return "array"
		}
		return "delimiter " + t.String()
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", t)
	}
}

func (r *Record) set(name string, value any) {
	if r.index == nil {
		r.index = map[string]int{}
	}
	if i, ok := r.index[name]; ok {
		r.fields[i].Value = value
		return
	}
	r.index[name] = len(r.fields)
	r.fields = append(r.fields, Field{Name: name, Value: value})
}

// Get returns the value of a field.
func (r Record) Get(name string) (any, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.fields[i].Value, true
}

func (r Record) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Fields returns a copy of the fields in order.
func (r Record) Fields() []Field {
	return append([]Field(nil), r.fields...)
}

func (r Record) Len() int {
	return len(r.fields)
}

// Malformed reports whether the Record was decoded from something other than an object.
func (r Record) Malformed() (string, bool) {
	return r.malformed, r.malformed != ""
}

// ID renders the "id" field as a string, or "" when absent.
func (r Record) ID() string {
	v, ok := r.Get("id")
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func (r Record) String() string {
	b, err := r.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<unencodable record: %v>", err)
	}
	return string(b)
}

func (r Record) MarshalJSON() ([]byte, error) {
	if r.malformed != "" {
		if json.Valid(r.raw) {
			return append([]byte(nil), r.raw...), nil
		}
		return json.Marshal(string(r.raw))
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("redrive: encode field %q: %w", f.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Record) UnmarshalJSON(data []byte) error {
	if !json.Valid(data) {
		return errors.New("redrive: invalid record JSON")
	}
	*r = ParseRecord(data)
	return nil
}
