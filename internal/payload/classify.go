package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind is the shape of a value as seen by the normaliser.
type Kind int

// Kinds recognised by classify.
const (
	// KindBytes is raw binary data ([]byte).
	KindBytes Kind = iota

	// KindObject is a JSON object (map, struct, or object-shaped JSON text).
	KindObject

	// KindArray is a JSON array (slice, array, or array-shaped JSON text).
	KindArray

	// KindScalar is a number, boolean, null, or JSON string literal.
	KindScalar

	// KindText is a string that is not valid JSON.
	KindText
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindScalar:
		return "scalar"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// classified is the result of inspecting an input value once.
//
// raw holds the compact JSON encoding of the value for every kind except
// KindBytes, where it holds the original bytes, and KindText, where it holds
// the original string bytes. original is the caller's string when the value
// came from parsing a string, so pass-through rules can keep it byte-for-byte.
type classified struct {
	kind       Kind
	hasD       bool
	raw        []byte
	original   []byte
	fromString bool
}

// classify inspects data and decides its Kind.
//
// When tryJSON is false, strings are never parsed and are always KindText;
// this is the path used for non-JSON formats.
func classify(data any, tryJSON bool) classified {
	switch v := data.(type) {
	case []byte:
		return classified{kind: KindBytes, raw: v}
	case json.RawMessage:
		if c, ok := classifyJSON(v); ok {
			return c
		}
		return classified{kind: KindBytes, raw: v}
	case string:
		if tryJSON {
			if c, ok := classifyJSON([]byte(v)); ok {
				c.fromString = true
				c.original = []byte(v)
				return c
			}
		}
		return classified{kind: KindText, raw: []byte(v)}
	case nil:
		return classified{kind: KindScalar, raw: []byte("null")}
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		encoded, err := encode(v)
		if err != nil {
			// NaN and ±Inf have no JSON form.
			return classified{kind: KindScalar, raw: mustMarshalString(fmt.Sprint(v))}
		}
		return classified{kind: KindScalar, raw: encoded}
	}

	encoded, err := encode(data)
	if err != nil {
		return classified{kind: KindText, raw: []byte(fmt.Sprint(data))}
	}
	if c, ok := classifyJSON(encoded); ok {
		return c
	}
	return classified{kind: KindText, raw: []byte(fmt.Sprint(data))}
}

// classifyJSON parses text as JSON and reports its kind.
// It returns ok=false when text is not a single valid JSON value.
func classifyJSON(text []byte) (classified, bool) {
	trimmed := bytes.TrimSpace(text)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return classified{}, false
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return classified{}, false
	}

	c := classified{raw: compact.Bytes()}
	switch trimmed[0] {
	case '{':
		c.kind = KindObject
		c.hasD = hasDataField(trimmed)
	case '[':
		c.kind = KindArray
	default:
		c.kind = KindScalar
	}
	return c, true
}

// hasDataField reports whether a JSON object has a top-level "d" key.
func hasDataField(object []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(object, &fields); err != nil {
		return false
	}
	_, ok := fields[envelopeField]
	return ok
}

// encode marshals v without HTML escaping, so "<", ">" and "&" reach the
// platform unchanged.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// mustMarshalString encodes s as a JSON string literal.
func mustMarshalString(s string) []byte {
	//nolint:errcheck // strings always marshal
	encoded, _ := encode(s)
	return encoded
}
