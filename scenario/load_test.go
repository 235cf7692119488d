package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
name: sample
description: capture and reuse
vars:
  actor: tester
steps:
  - label: start
    tool: start_session
    arguments:
      actor: ${actor}
      metadata:
        task: verify
    capture:
      - var: session_id
        using: pattern
  - label: end
    tool: end_session
    requires: [session_id]
    arguments:
      session_id: ${session_id}
    expect:
      contains: ended
`

func TestParseYAML(t *testing.T) {
	sc, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if sc.Name != "sample" || len(sc.Steps) != 2 || sc.Vars["actor"] != "tester" {
		t.Fatalf("parsed %+v", sc)
	}
	st := sc.Steps[0]
	if st.Capture[0].Var != "session_id" || st.Capture[0].FieldName() != "session_id" || st.Capture[0].Using != "pattern" {
		t.Fatalf("capture = %+v", st.Capture)
	}
	meta, ok := st.Arguments["metadata"].(map[string]any)
	if !ok || meta["task"] != "verify" {
		t.Fatalf("nested arguments = %#v", st.Arguments["metadata"])
	}
	if sc.Steps[1].Expect.Contains != "ended" {
		t.Fatalf("expect = %+v", sc.Steps[1].Expect)
	}
}

func TestParseJSON(t *testing.T) {
	doc := `{"name":"j","steps":[{"label":"ping","method":"ping"}]}`
	sc, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if sc.Steps[0].Method != "ping" {
		t.Fatalf("parsed %+v", sc)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	doc := "name: x\nsteps:\n  - label: a\n    tool: t\n    argumnets: {}\n"
	if _, err := Parse([]byte(doc)); err == nil || !strings.Contains(err.Error(), "argumnets") {
		t.Fatalf("Parse = %v, want unknown field error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		sc   Scenario
		want string
	}{
		{"bad name", Scenario{Name: "a b", Steps: []Step{{Label: "x", Tool: "t"}}}, "name"},
		{"no steps", Scenario{Name: "a"}, "no steps"},
		{"missing label", Scenario{Name: "a", Steps: []Step{{Tool: "t"}}}, "label is required"},
		{"duplicate label", Scenario{Name: "a", Steps: []Step{{Label: "x", Tool: "t"}, {Label: "x", Tool: "u"}}}, "duplicate"},
		{"neither", Scenario{Name: "a", Steps: []Step{{Label: "x"}}}, "one of tool or method"},
		{"both", Scenario{Name: "a", Steps: []Step{{Label: "x", Tool: "t", Method: "ping"}}}, "mutually exclusive"},
		{"bad capture var", Scenario{Name: "a", Steps: []Step{{Label: "x", Tool: "t", Capture: []Capture{{Var: "1x"}}}}}, "invalid var"},
		{"bad extractor", Scenario{Name: "a", Steps: []Step{{Label: "x", Tool: "t", Capture: []Capture{{Var: "id", Using: "xpath"}}}}}, "unknown extractor"},
		{"bad requires", Scenario{Name: "a", Steps: []Step{{Label: "x", Tool: "t", Requires: []string{"a-b"}}}}, "requires"},
		{"empty server", Scenario{Name: "a", Server: &Command{}, Steps: []Step{{Label: "x", Tool: "t"}}}, "server.command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sc.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadAndMarshal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	sc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	out, err := Marshal(sc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse(Marshal): %v\n%s", err, out)
	}
	if again.Steps[1].Arguments["session_id"] != "${session_id}" {
		t.Fatalf("placeholders lost in Marshal: %s", out)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
