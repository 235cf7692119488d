// Package scenario runs scripted sequences of MCP calls against a server and
// reports the outcome of each step.
//
// A Scenario is data: a list of Steps, each invoking a tool (or a raw
// method), optionally capturing an identifier from the result into a
// variable that later steps reference as ${name}. Steps whose inputs are
// missing are skipped rather than failed, so one broken call does not hide
// the results of independent steps that follow it.
package scenario

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ggoodman/mcp-stdio-harness/extract"
)

// Command describes how to launch the server under test.
type Command struct {
	Path string   `json:"command" yaml:"command" jsonschema:"required,description=Executable to spawn"`
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
	Env  []string `json:"env,omitempty" yaml:"env,omitempty" jsonschema:"description=Extra KEY=VALUE pairs"`
}

// Scenario is a named, ordered list of steps.
type Scenario struct {
	Name        string            `json:"name" yaml:"name" jsonschema:"required,pattern=^[A-Za-z0-9_.-]+$"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Server      *Command          `json:"server,omitempty" yaml:"server,omitempty" jsonschema:"description=Overrides the configured server command"`
	Vars        map[string]string `json:"vars,omitempty" yaml:"vars,omitempty" jsonschema:"description=Initial variables"`
	// ExpectServer, when set, must equal the serverInfo.name from initialize.
	ExpectServer string `json:"expect_server,omitempty" yaml:"expect_server,omitempty"`
	Steps        []Step `json:"steps" yaml:"steps" jsonschema:"required,minItems=1"`
}

// Step is one request.
type Step struct {
	Label     string         `json:"label" yaml:"label" jsonschema:"required"`
	Tool      string         `json:"tool,omitempty" yaml:"tool,omitempty" jsonschema:"description=Tool to invoke through tools/call"`
	Method    string         `json:"method,omitempty" yaml:"method,omitempty" jsonschema:"description=Raw JSON-RPC method; exclusive with tool"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Requires  []string       `json:"requires,omitempty" yaml:"requires,omitempty" jsonschema:"description=Variables that must be set for the step to run"`
	Capture   []Capture      `json:"capture,omitempty" yaml:"capture,omitempty"`
	Expect    Expect         `json:"expect,omitempty" yaml:"expect,omitempty"`
}

// Capture stores an identifier extracted from a step's result.
type Capture struct {
	Var   string `json:"var" yaml:"var" jsonschema:"required"`
	Field string `json:"field,omitempty" yaml:"field,omitempty" jsonschema:"description=Field name to look up; defaults to var"`
	Using string `json:"using,omitempty" yaml:"using,omitempty" jsonschema:"enum=pattern,enum=json,enum=structured,enum=uuid"`
}

// FieldName returns Field, or Var when Field is empty.
func (c Capture) FieldName() string {
	if c.Field != "" {
		return c.Field
	}
	return c.Var
}

// Expect refines what counts as a passing step. The zero value passes any
// response that carries a result without isError.
type Expect struct {
	Error      bool   `json:"error,omitempty" yaml:"error,omitempty" jsonschema:"description=The step passes only when the server answers with an error"`
	MinContent int    `json:"min_content,omitempty" yaml:"min_content,omitempty"`
	Contains   string `json:"contains,omitempty" yaml:"contains,omitempty" jsonschema:"description=Substring the first text item must contain"`
}

var (
	nameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	varRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Validate checks the scenario is runnable.
func (s *Scenario) Validate() error {
	var errs []error
	if !nameRe.MatchString(s.Name) {
		errs = append(errs, fmt.Errorf("name %q must match %s", s.Name, nameRe))
	}
	if s.Server != nil && strings.TrimSpace(s.Server.Path) == "" {
		errs = append(errs, errors.New("server.command is empty"))
	}
	if len(s.Steps) == 0 {
		errs = append(errs, errors.New("no steps"))
	}
	for k := range s.Vars {
		if !varRe.MatchString(k) {
			errs = append(errs, fmt.Errorf("vars: invalid name %q", k))
		}
	}

	labels := map[string]bool{}
	for i, st := range s.Steps {
		prefix := fmt.Sprintf("step %d", i+1)
		if st.Label == "" {
			errs = append(errs, fmt.Errorf("%s: label is required", prefix))
		} else {
			prefix = fmt.Sprintf("step %d (%s)", i+1, st.Label)
			if labels[st.Label] {
				errs = append(errs, fmt.Errorf("%s: duplicate label", prefix))
			}
			labels[st.Label] = true
		}
		switch {
		case st.Tool == "" && st.Method == "":
			errs = append(errs, fmt.Errorf("%s: one of tool or method is required", prefix))
		case st.Tool != "" && st.Method != "":
			errs = append(errs, fmt.Errorf("%s: tool and method are mutually exclusive", prefix))
		}
		if st.Expect.MinContent < 0 {
			errs = append(errs, fmt.Errorf("%s: min_content must not be negative", prefix))
		}
		for _, r := range st.Requires {
			if !varRe.MatchString(r) {
				errs = append(errs, fmt.Errorf("%s: requires: invalid name %q", prefix, r))
			}
		}
		for _, c := range st.Capture {
			if !varRe.MatchString(c.Var) {
				errs = append(errs, fmt.Errorf("%s: capture: invalid var %q", prefix, c.Var))
			}
			if _, err := extract.ByName(c.Using); err != nil {
				errs = append(errs, fmt.Errorf("%s: capture %s: %w", prefix, c.Var, err))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	return nil
}
