package payload

import "bytes"

// FormatJSON is the format tag that requires the {"d": ...} envelope.
const FormatJSON = "json"

// envelopeField is the top-level field carrying event data on the wire.
const envelopeField = "d"

// Payload is a normalised, ready-to-publish event body.
type Payload struct {
	// Bytes is the exact body handed to the transport.
	Bytes []byte

	// Text is false only when raw binary input was passed through untouched.
	Text bool

	// Kind is how the input was classified.
	Kind Kind
}

// String returns the payload body as a string.
func (p Payload) String() string {
	return string(p.Bytes)
}

// Len returns the payload size in bytes.
func (p Payload) Len() int {
	return len(p.Bytes)
}

// rule selects how a classified value becomes the wire body.
type rule int

const (
	// rulePassThrough emits an already valid envelope as-is.
	rulePassThrough rule = iota

	// ruleWrapData emits {"d": <value>}.
	ruleWrapData

	// ruleWrapValue emits {"d":{"value": <value>}}.
	ruleWrapValue

	// ruleWrapText emits {"d":{"value": "<raw as string>"}}.
	ruleWrapText
)

type ruleKey struct {
	kind Kind
	hasD bool
}

// jsonRules maps a classified value to its envelope rule when the format is
// "json". Only objects can carry a "d" field.
var jsonRules = map[ruleKey]rule{
	{KindBytes, false}:  ruleWrapText,
	{KindObject, true}:  rulePassThrough,
	{KindObject, false}: ruleWrapData,
	{KindArray, false}:  ruleWrapValue,
	{KindScalar, false}: ruleWrapValue,
	{KindText, false}:   ruleWrapText,
}

// Normalize converts data into the canonical body for the given format.
//
// With format "json" the result is always a serialised JSON object with a
// top-level "d" field. With any other format, byte slices pass through
// unchanged and everything else is rendered as text (composite values as
// JSON). Normalize never fails.
func Normalize(data any, format string) Payload {
	if format != FormatJSON {
		c := classify(data, false)
		return Payload{Bytes: c.raw, Text: c.kind != KindBytes, Kind: c.kind}
	}

	c := classify(data, true)
	r, ok := jsonRules[ruleKey{kind: c.kind, hasD: c.hasD}]
	if !ok {
		r = ruleWrapValue
	}
	return Payload{Bytes: apply(r, c), Text: true, Kind: c.kind}
}

// apply renders c according to r.
func apply(r rule, c classified) []byte {
	switch r {
	case rulePassThrough:
		if c.fromString {
			return c.original
		}
		return c.raw
	case ruleWrapData:
		return wrap(c.raw, `{"d":`, `}`)
	case ruleWrapValue:
		return wrap(c.raw, `{"d":{"value":`, `}}`)
	case ruleWrapText:
		return wrap(mustMarshalString(string(c.raw)), `{"d":{"value":`, `}}`)
	default:
		return c.raw
	}
}

func wrap(inner []byte, prefix, suffix string) []byte {
	var buf bytes.Buffer
	buf.Grow(len(prefix) + len(inner) + len(suffix))
	buf.WriteString(prefix)
	buf.Write(inner)
	buf.WriteString(suffix)
	return buf.Bytes()
}
