package scenario

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ggoodman/mcp-stdio-harness/internal/jsonrpc"
)

// Outcome is the result of a single step.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// StepResult records what happened to one step.
type StepResult struct {
	Index   int            `json:"index"`
	Label   string         `json:"label"`
	Tool    string         `json:"tool,omitempty"`
	Method  string         `json:"method"`
	Outcome Outcome        `json:"outcome"`
	Summary string         `json:"summary,omitempty"`
	Error   *jsonrpc.Error `json:"error,omitempty"`
	// Reason explains a failure or skip in words.
	Reason   string            `json:"reason,omitempty"`
	Captured map[string]string `json:"captured,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Report is the outcome of one scenario run.
type Report struct {
	RunID      string            `json:"run_id"`
	Scenario   string            `json:"scenario"`
	Server     string            `json:"server,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Steps      []StepResult      `json:"steps"`
	Vars       map[string]string `json:"vars,omitempty"`
	// Aborted is set when the run stopped early because the session broke.
	Aborted string `json:"aborted,omitempty"`
}

// Counts tallies step outcomes.
func (r *Report) Counts() (passed, failed, skipped int) {
	for _, s := range r.Steps {
		switch s.Outcome {
		case OutcomePassed:
			passed++
		case OutcomeFailed:
			failed++
		case OutcomeSkipped:
			skipped++
		}
	}
	return passed, failed, skipped
}

// OK reports whether the run completed without failed steps.
func (r *Report) OK() bool {
	_, failed, _ := r.Counts()
	return failed == 0 && r.Aborted == ""
}

// Reporter observes a run as it progresses.
type Reporter interface {
	ScenarioStarted(sc *Scenario, runID string)
	StepFinished(res *StepResult)
	ScenarioFinished(rep *Report)
}

// TextReporter writes a human-readable log of the run.
type TextReporter struct {
	W io.Writer
	// Verbose prints the full text of each result instead of its first line.
	Verbose bool
}

func (t *TextReporter) ScenarioStarted(sc *Scenario, runID string) {
	fmt.Fprintf(t.W, "=== %s (run %s)\n", sc.Name, runID)
	if sc.Description != "" {
		fmt.Fprintf(t.W, "    %s\n", sc.Description)
	}
}

func (t *TextReporter) StepFinished(res *StepResult) {
	fmt.Fprintf(t.W, "\n--- %s ---\n", res.Label)
	switch res.Outcome {
	case OutcomeSkipped:
		fmt.Fprintf(t.W, "⏭  Skipping: %s\n", res.Reason)
		return
	case OutcomePassed:
		fmt.Fprintf(t.W, "✅ %s\n", t.text(res.Summary))
	case OutcomeFailed:
		if res.Error != nil {
			b, _ := json.Marshal(res.Error)
			fmt.Fprintf(t.W, "❌ Error: %s\n", b)
		} else {
			fmt.Fprintf(t.W, "❌ %s\n", t.text(res.Summary))
		}
		if res.Reason != "" {
			fmt.Fprintf(t.W, "   %s\n", res.Reason)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(res.Captured)) {
		fmt.Fprintf(t.W, "   %s = %s\n", k, res.Captured[k])
	}
}

func (t *TextReporter) ScenarioFinished(rep *Report) {
	passed, failed, skipped := rep.Counts()
	fmt.Fprintf(t.W, "\n=== %s: %d passed, %d failed, %d skipped in %s\n",
		rep.Scenario, passed, failed, skipped, rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	if rep.Aborted != "" {
		fmt.Fprintf(t.W, "❌ Aborted: %s\n", rep.Aborted)
	}
}

func (t *TextReporter) text(s string) string {
	if s == "" {
		return "(no text content)"
	}
	if t.Verbose {
		return s
	}
	first, rest, _ := strings.Cut(strings.TrimSpace(s), "\n")
	if rest != "" {
		return first + " …"
	}
	return first
}

// MultiReporter fans events out to several reporters.
type MultiReporter []Reporter

func (m MultiReporter) ScenarioStarted(sc *Scenario, runID string) {
	for _, r := range m {
		r.ScenarioStarted(sc, runID)
	}
}

func (m MultiReporter) StepFinished(res *StepResult) {
	for _, r := range m {
		r.StepFinished(res)
	}
}

func (m MultiReporter) ScenarioFinished(rep *Report) {
	for _, r := range m {
		r.ScenarioFinished(rep)
	}
}
