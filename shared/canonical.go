package shared

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var ErrInvalidValue = errors.New("invalid body value")

// Kind enumerates the variants a Value can hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindMap
	KindList
)

// Value is a dynamically shaped payload element of a query spec or response body.
// Numbers are kept as normalized decimal text. Integers that fit 64 bits stay
// exact, anything else takes the shortest text of its float64 value.
type Value struct {
	kind Kind
	text string
	flag bool
	obj  Body
	list []Value
}

// Body is an opaque key-value payload carried by challenges and receipts.
type Body map[string]Value

func Null() Value               { return Value{kind: KindNull} }
func String(s string) Value     { return Value{kind: KindString, text: s} }
func Int(n int64) Value         { return Value{kind: KindNumber, text: strconv.FormatInt(n, 10)} }
func Uint(n uint64) Value       { return Value{kind: KindNumber, text: strconv.FormatUint(n, 10)} }
func Bool(b bool) Value         { return Value{kind: KindBool, flag: b} }
func Map(b Body) Value          { return Value{kind: KindMap, obj: b} }
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// Number builds a numeric value from its decimal text. Equal numbers written
// differently, such as 1, 1.0 and 1e0, produce the same value.
func Number(text string) (Value, error) {
	if !json.Valid([]byte(text)) {
		return Value{}, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, text)
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Int(n), nil
	}
	if n, err := strconv.ParseUint(text, 10, 64); err == nil {
		return Uint(n), nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, text)
	}
	return Value{kind: KindNumber, text: formatFloat(f)}, nil
}

func formatFloat(f float64) string {
	switch {
	case f != math.Trunc(f):
	case f >= math.MinInt64 && f < math.MaxInt64:
		return strconv.FormatInt(int64(f), 10)
	case f >= 0 && f < math.MaxUint64:
		return strconv.FormatUint(uint64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsString() (string, bool) {
	return v.text, v.kind == KindString
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	n, err := strconv.ParseInt(v.text, 10, 64)
	return n, err == nil
}

func (v Value) AsUint() (uint64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	n, err := strconv.ParseUint(v.text, 10, 64)
	return n, err == nil
}

func (v Value) AsBool() (bool, bool) {
	return v.flag, v.kind == KindBool
}

func (v Value) AsMap() (Body, bool) {
	return v.obj, v.kind == KindMap
}

func (v Value) AsList() ([]Value, bool) {
	return v.list, v.kind == KindList
}

// Canonical returns the deterministic encoding of b: JSON with keys sorted
// recursively, no insignificant whitespace, normalized numbers and strings
// escaped only where JSON requires it.
// Signing and verification must both hash this encoding.
func (b Body) Canonical() []byte {
	var buf bytes.Buffer
	writeBody(&buf, b)
	return buf.Bytes()
}

// Hash is the Keccak-256 digest of the canonical encoding.
func (b Body) Hash() Hash32 {
	return HashConcat(b.Canonical())
}

// String returns a body value by key.
func (b Body) String(key string) (string, bool) {
	v, ok := b[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

func (b Body) Uint(key string) (uint64, bool) {
	v, ok := b[key]
	if !ok {
		return 0, false
	}
	return v.AsUint()
}

func (b Body) List(key string) ([]Value, bool) {
	v, ok := b[key]
	if !ok {
		return nil, false
	}
	return v.AsList()
}

func writeBody(buf *bytes.Buffer, b Body) {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, k)
		buf.WriteByte(':')
		writeValue(buf, b[k])
	}
	buf.WriteByte('}')
}

func writeValue(buf *bytes.Buffer, v Value) {
	switch v.kind {
	case KindString:
		writeString(buf, v.text)
	case KindNumber:
		buf.WriteString(v.text)
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.flag))
	case KindMap:
		writeBody(buf, v.obj)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeValue(buf, item)
		}
		buf.WriteByte(']')
	default:
		buf.WriteString("null")
	}
}

func writeString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// encoding a string cannot fail
	_ = enc.Encode(s)
	// drop the newline Encode appends
	buf.Truncate(buf.Len() - 1)
}

func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	writeValue(&buf, v)
	return buf.Bytes(), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts a decoded JSON tree (decoded with UseNumber) or plain Go values into a Value.
func FromAny(raw any) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case json.Number:
		return Number(val.String())
	case int:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case uint64:
		return Uint(val), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return Value{}, fmt.Errorf("%w: %v is not a number", ErrInvalidValue, val)
		}
		return Value{kind: KindNumber, text: formatFloat(val)}, nil
	case Value:
		return val, nil
	case map[string]any:
		body := make(Body, len(val))
		for k, item := range val {
			parsed, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			body[k] = parsed
		}
		return Map(body), nil
	case []any:
		items := make([]Value, 0, len(val))
		for i, item := range val {
			parsed, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items = append(items, parsed)
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, raw)
	}
}
