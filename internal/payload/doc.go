// Package payload normalises outbound event data into the shape the Watson IoT
// platform expects on the wire.
//
// Every event published with format "json" must be a JSON object whose
// top-level "d" field carries the actual data. Normalize accepts arbitrary Go
// values (raw bytes, strings, maps, structs, slices, scalars) and produces the
// canonical envelope deterministically:
//
//	payload.Normalize(map[string]any{"temp": 42}, "json") // {"d":{"temp":42}}
//	payload.Normalize("5", "json")                        // {"d":{"value":5}}
//	payload.Normalize("hello", "json")                    // {"d":{"value":"hello"}}
//	payload.Normalize([]int{1, 2}, "json")                // {"d":{"value":[1,2]}}
//
// For any other format the data is passed through (bytes) or rendered as text.
//
// # Design
//
// Input is classified exactly once into a Kind (see classify.go). A small rule
// table keyed by (Kind, has "d" field) then selects how the classified value is
// wrapped. Normalize never fails: values that cannot be encoded as JSON fall
// back to their textual form.
package payload
