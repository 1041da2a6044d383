package findall

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestNormalizeStructured_StringAndNativeAgree(t *testing.T) {
	t.Parallel()

	native := []map[string]any{
		{"name": "industry", "description": "operates in SaaS"},
		{"name": "headcount", "description": "more than 50 employees"},
	}
	serialized := `[{"description":"operates in SaaS","name":"industry"},{"description":"more than 50 employees","name":"headcount"}]`

	fromNative, err := normalizeStructured("match_conditions", native)
	if err != nil {
		t.Fatalf("native: %v", err)
	}
	fromString, err := normalizeStructured("match_conditions", serialized)
	if err != nil {
		t.Fatalf("string: %v", err)
	}
	if !bytes.Equal(fromNative, fromString) {
		t.Fatalf("forms disagree:\nnative: %s\nstring: %s", fromNative, fromString)
	}
}

func TestNormalizeStructured_ObjectForm(t *testing.T) {
	t.Parallel()

	out, err := normalizeStructured("output_schema", map[string]any{"type": "object"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if string(out) != `{"type":"object"}` {
		t.Fatalf("out = %s", out)
	}
}

func TestNormalizeStructured_DoubleEncodedString(t *testing.T) {
	t.Parallel()

	// A JSON string token whose content is itself serialized JSON: the agent
	// runtime produces this when it quotes an already-serialized argument.
	raw := json.RawMessage(`"{\"type\":\"object\"}"`)
	out, err := normalizeStructured("output_schema", raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if string(out) != `{"type":"object"}` {
		t.Fatalf("out = %s", out)
	}
}

func TestNormalizeStructured_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   any
	}{
		{"nil", nil},
		{"invalid json string", `{"name": "industry`},
		{"scalar string", `42`},
		{"scalar native", 42},
		{"bare words", "find all companies"},
	}
	for _, tc := range cases {
		_, err := normalizeStructured("match_conditions", tc.in)
		if err == nil {
			t.Fatalf("%s: expected an error", tc.name)
		}
		var mi *MalformedInputError
		if !errors.As(err, &mi) {
			t.Fatalf("%s: expected MalformedInputError, got %T", tc.name, err)
		}
		if mi.Field != "match_conditions" {
			t.Fatalf("%s: Field = %q", tc.name, mi.Field)
		}
	}
}

func TestCompileOutputSchema(t *testing.T) {
	t.Parallel()

	valid := json.RawMessage(`{"type":"object","properties":{"ceo":{"type":"string"}},"required":["ceo"]}`)
	if err := compileOutputSchema(valid); err != nil {
		t.Fatalf("valid schema rejected: %v", err)
	}

	invalid := json.RawMessage(`{"type":12345}`)
	if err := compileOutputSchema(invalid); err == nil {
		t.Fatal("invalid schema accepted")
	}
}
