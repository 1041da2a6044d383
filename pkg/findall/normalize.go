package findall

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MalformedInputError reports structured input that could not be normalized.
// It is raised before any network call is attempted.
type MalformedInputError struct {
	Field string
	Err   error
}

func (e *MalformedInputError) Error() string {
	if e == nil {
		return "malformed input"
	}
	return fmt.Sprintf("malformed %s: %v", e.Field, e.Err)
}

func (e *MalformedInputError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// normalizeStructured accepts nested filter/schema data in either of the two
// forms callers hand over: a native structure, or its serialized JSON string.
// Structured-native wins; a string is parsed exactly once. Both forms are
// re-marshalled through encoding/json so equivalent inputs produce
// byte-identical outbound request bodies.
func normalizeStructured(field string, v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return nil, &MalformedInputError{Field: field, Err: fmt.Errorf("value is required")}
	case json.RawMessage:
		return normalizeRaw(field, t)
	case []byte:
		return normalizeRaw(field, t)
	case string:
		return parseSerialized(field, t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, &MalformedInputError{Field: field, Err: err}
		}
		return requireContainer(field, b)
	}
}

func normalizeRaw(field string, raw []byte) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &MalformedInputError{Field: field, Err: err}
	}
	// A JSON string token is the serialized form wrapped once more.
	if s, ok := v.(string); ok {
		return parseSerialized(field, s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &MalformedInputError{Field: field, Err: err}
	}
	return requireContainer(field, b)
}

func parseSerialized(field, s string) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, &MalformedInputError{Field: field, Err: err}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &MalformedInputError{Field: field, Err: err}
	}
	return requireContainer(field, b)
}

func requireContainer(field string, b []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, &MalformedInputError{Field: field, Err: fmt.Errorf("expected a JSON object or array")}
	}
	return trimmed, nil
}

// compileOutputSchema checks that an enrichment output schema is a valid JSON
// Schema document before it goes over the wire.
func compileOutputSchema(raw json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output_schema.json", bytes.NewReader(raw)); err != nil {
		return &MalformedInputError{Field: "output_schema", Err: err}
	}
	if _, err := compiler.Compile("output_schema.json"); err != nil {
		return &MalformedInputError{Field: "output_schema", Err: err}
	}
	return nil
}
