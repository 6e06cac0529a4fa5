package settings

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Kind tags how a stored value should be decoded.
type Kind string

const (
	KindBool   Kind = "bool"
	KindNumber Kind = "number"
	KindString Kind = "string"
	KindJSON   Kind = "json"
	// KindUntyped marks rows written before values were tagged. They are
	// decoded by sniffing the text.
	KindUntyped Kind = ""
)

// Value is a setting or statistic value together with its kind.
type Value struct {
	kind Kind
	raw  string
}

// Bool wraps a boolean.
func Bool(b bool) Value {
	return Value{kind: KindBool, raw: strconv.FormatBool(b)}
}

// Number wraps a finite float.
func Number(f float64) Value {
	return Value{kind: KindNumber, raw: strconv.FormatFloat(f, 'g', -1, 64)}
}

// String wraps plain text. "true" stays a string.
func String(s string) Value {
	return Value{kind: KindString, raw: s}
}

// JSON encodes v as a structured value.
func JSON(v any) (Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("encode json value: %w", err)
	}
	return Value{kind: KindJSON, raw: string(b)}, nil
}

// FromAny picks a kind for an arbitrary Go value: booleans and numbers keep
// their type, strings stay text, and maps, slices and structs become JSON.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case Value:
		return x, nil
	case nil:
		return Value{}, fmt.Errorf("nil setting value")
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case json.RawMessage:
		if !json.Valid(x) {
			return Value{}, fmt.Errorf("invalid raw json value")
		}
		return Value{kind: KindJSON, raw: string(x)}, nil
	case float32:
		return number(float64(x))
	case float64:
		return number(x)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		f, _ := strconv.ParseFloat(fmt.Sprint(x), 64)
		return Number(f), nil
	}

	switch reflect.Indirect(reflect.ValueOf(v)).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return JSON(v)
	}
	return String(fmt.Sprint(v)), nil
}

func number(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("number value must be finite, got %v", f)
	}
	return Number(f), nil
}

// Decode rebuilds a value from its stored columns.
func Decode(kind Kind, raw string) Value {
	return Value{kind: kind, raw: raw}
}

// Kind returns the stored kind. Untyped values report the kind sniffing
// would give them.
func (v Value) Kind() Kind {
	if v.kind != KindUntyped {
		return v.kind
	}
	switch sniff(v.raw).(type) {
	case bool:
		return KindBool
	case string:
		return KindString
	default:
		return KindJSON
	}
}

// Raw returns the stored text.
func (v Value) Raw() string {
	return v.raw
}

// Bool returns the boolean and whether the value is one.
func (v Value) Bool() (bool, bool) {
	b, ok := v.Interface().(bool)
	return b, ok
}

// Number returns the number and whether the value is one.
func (v Value) Number() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.raw, 64)
	return f, err == nil
}

// String returns the stored text for string values.
func (v Value) String() string {
	return v.raw
}

// DecodeJSON unmarshals a JSON value into dst.
func (v Value) DecodeJSON(dst any) error {
	if v.Kind() != KindJSON {
		return fmt.Errorf("value of kind %q is not json", v.Kind())
	}
	if err := json.Unmarshal([]byte(v.raw), dst); err != nil {
		return fmt.Errorf("decode json value: %w", err)
	}
	return nil
}

// Interface returns the decoded Go value: bool, float64, string, or the
// result of unmarshalling JSON into an any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		b, err := strconv.ParseBool(v.raw)
		if err != nil {
			return v.raw
		}
		return b
	case KindNumber:
		f, err := strconv.ParseFloat(v.raw, 64)
		if err != nil {
			return v.raw
		}
		return f
	case KindString:
		return v.raw
	case KindJSON:
		var out any
		if err := json.Unmarshal([]byte(v.raw), &out); err != nil {
			return v.raw
		}
		return out
	default:
		return sniff(v.raw)
	}
}

// sniff decodes untyped text. JSON-looking text becomes a structure when it
// parses, literal true/false become booleans, anything else stays a string.
// A stored string "true" is indistinguishable from a boolean here.
func sniff(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var out any
		if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
			return out
		}
		return raw
	}
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}

// Parse builds a value of kind from typed-in text, as the admin console
// collects it.
func Parse(kind Kind, text string) (Value, error) {
	trimmed := strings.TrimSpace(text)
	switch kind {
	case KindBool:
		b, err := strconv.ParseBool(trimmed)
		if err != nil {
			return Value{}, fmt.Errorf("not a boolean: %q", text)
		}
		return Bool(b), nil
	case KindNumber:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return Value{}, fmt.Errorf("not a number: %q", text)
		}
		return number(f)
	case KindJSON:
		return FromAny(json.RawMessage(trimmed))
	case KindString:
		return String(text), nil
	default:
		return Value{}, fmt.Errorf("unknown value kind %q", kind)
	}
}
