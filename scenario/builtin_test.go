package scenario

import (
	"encoding/json"
	"slices"
	"strings"
	"testing"
)

func TestBuiltinNames(t *testing.T) {
	want := []string{"advanced-bridge", "bridge-tools", "embedding", "handshake", "list-contexts", "smoke", "unknown-tool"}
	if got := BuiltinNames(); !slices.Equal(got, want) {
		t.Fatalf("BuiltinNames = %v, want %v", got, want)
	}
	for _, name := range want {
		sc, err := Builtin(name)
		if err != nil {
			t.Fatalf("Builtin(%q): %v", name, err)
		}
		if sc.Name != name {
			t.Fatalf("builtin file %s declares name %q", name, sc.Name)
		}
	}
}

func TestBuiltinUnknown(t *testing.T) {
	_, err := Builtin("nope")
	if err == nil || !strings.Contains(err.Error(), "smoke") {
		t.Fatalf("Builtin(nope) = %v, want error listing builtins", err)
	}
}

func TestBuiltinReturnsFreshCopies(t *testing.T) {
	a, _ := Builtin("smoke")
	a.Steps[0].Label = "mutated"
	b, _ := Builtin("smoke")
	if b.Steps[0].Label == "mutated" {
		t.Fatal("Builtin shares state between calls")
	}
}

func TestSchema(t *testing.T) {
	raw, err := SchemaJSON()
	if err != nil {
		t.Fatalf("SchemaJSON: %v", err)
	}
	var doc struct {
		Type       string                     `json:"type"`
		Required   []string                   `json:"required"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if doc.Type != "object" {
		t.Fatalf("type = %q", doc.Type)
	}
	for _, f := range []string{"name", "steps"} {
		if !slices.Contains(doc.Required, f) {
			t.Fatalf("required = %v, missing %s", doc.Required, f)
		}
	}
	for _, f := range []string{"name", "description", "server", "vars", "expect_server", "steps"} {
		if _, ok := doc.Properties[f]; !ok {
			t.Fatalf("schema lacks property %q", f)
		}
	}
	if !strings.Contains(string(doc.Properties["steps"]), `"capture"`) {
		t.Fatalf("step schema not inlined: %s", doc.Properties["steps"])
	}
}
