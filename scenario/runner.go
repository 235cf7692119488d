package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/mcp-stdio-harness/client"
	"github.com/ggoodman/mcp-stdio-harness/extract"
	"github.com/ggoodman/mcp-stdio-harness/internal/jsonrpc"
	"github.com/ggoodman/mcp-stdio-harness/internal/logctx"
	"github.com/ggoodman/mcp-stdio-harness/mcp"
)

// Caller issues requests over an established session. *client.Client
// implements it.
type Caller interface {
	CallTool(ctx context.Context, name string, arguments any) (*jsonrpc.Response, error)
	Call(ctx context.Context, method string, params any) (*jsonrpc.Response, error)
}

// serverInfoer is implemented by callers that know who they are talking to.
type serverInfoer interface {
	ServerInfo() mcp.ImplementationInfo
}

// Runner executes scenarios one step at a time.
type Runner struct {
	caller   Caller
	l        *slog.Logger
	reporter Reporter
	vars     map[string]string
	now      func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.l = l
		}
	}
}

// WithReporter sets the reporter notified as steps finish.
func WithReporter(rep Reporter) RunnerOption {
	return func(r *Runner) { r.reporter = rep }
}

// WithVars seeds variables, overriding the scenario's own Vars.
func WithVars(vars map[string]string) RunnerOption {
	return func(r *Runner) {
		if r.vars == nil {
			r.vars = map[string]string{}
		}
		maps.Copy(r.vars, vars)
	}
}

// NewRunner returns a Runner issuing calls through c.
func NewRunner(c Caller, opts ...RunnerOption) *Runner {
	r := &Runner{
		caller: c,
		l:      slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every step of sc in order. Tool-level failures are recorded
// and the run continues; an error is returned only when the session itself
// broke (the server exited, sent malformed output, or the client closed), in
// which case the report covers the steps attempted so far.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	rep := &Report{
		RunID:     uuid.NewString(),
		Scenario:  sc.Name,
		StartedAt: r.now(),
		Vars:      map[string]string{},
	}
	maps.Copy(rep.Vars, sc.Vars)
	maps.Copy(rep.Vars, r.vars)

	ctx = logctx.WithScenarioData(ctx, &logctx.ScenarioData{Name: sc.Name, RunID: rep.RunID})
	if si, ok := r.caller.(serverInfoer); ok {
		rep.Server = si.ServerInfo().Name
	}

	if r.reporter != nil {
		r.reporter.ScenarioStarted(sc, rep.RunID)
	}
	r.l.InfoContext(ctx, "scenario started", slog.Int("steps", len(sc.Steps)))

	var runErr error
	if sc.ExpectServer != "" && rep.Server != sc.ExpectServer {
		res := StepResult{
			Label:   "initialize",
			Method:  string(mcp.InitializeMethod),
			Outcome: OutcomeFailed,
			Reason:  fmt.Sprintf("server name %q, want %q", rep.Server, sc.ExpectServer),
		}
		r.record(rep, &res)
	}

	for i := range sc.Steps {
		st := &sc.Steps[i]
		res, err := r.runStep(ctx, i, st, rep.Vars)
		r.record(rep, res)
		if err != nil {
			rep.Aborted = fmt.Sprintf("step %q: %v", st.Label, err)
			runErr = fmt.Errorf("scenario %s: step %q: %w", sc.Name, st.Label, err)
			break
		}
	}

	rep.FinishedAt = r.now()
	passed, failed, skipped := rep.Counts()
	r.l.InfoContext(ctx, "scenario finished",
		slog.Int("passed", passed),
		slog.Int("failed", failed),
		slog.Int("skipped", skipped),
		slog.Bool("aborted", rep.Aborted != ""),
	)
	if r.reporter != nil {
		r.reporter.ScenarioFinished(rep)
	}
	return rep, runErr
}

func (r *Runner) record(rep *Report, res *StepResult) {
	rep.Steps = append(rep.Steps, *res)
	if r.reporter != nil {
		r.reporter.StepFinished(res)
	}
}

func (r *Runner) runStep(ctx context.Context, idx int, st *Step, vars map[string]string) (*StepResult, error) {
	res := &StepResult{Index: idx + 1, Label: st.Label, Tool: st.Tool, Method: st.Method}
	if st.Tool != "" {
		res.Method = string(mcp.ToolsCallMethod)
	}
	ctx = logctx.WithStepData(ctx, &logctx.StepData{Index: res.Index, Label: st.Label, Tool: st.Tool})

	var missing []string
	for _, name := range st.Requires {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	args, unresolved := Expand(st.Arguments, vars)
	for _, name := range unresolved {
		if !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		res.Outcome = OutcomeSkipped
		res.Reason = "missing " + strings.Join(missing, ", ")
		r.l.WarnContext(ctx, "skipping step", slog.String("reason", res.Reason))
		return res, nil
	}

	start := r.now()
	var (
		resp *jsonrpc.Response
		err  error
	)
	if st.Tool != "" {
		var toolArgs any
		if m, ok := args.(map[string]any); ok && m != nil {
			toolArgs = m
		}
		resp, err = r.caller.CallTool(ctx, st.Tool, toolArgs)
	} else {
		var params any
		if m, ok := args.(map[string]any); ok && m != nil {
			params = m
		}
		resp, err = r.caller.Call(ctx, st.Method, params)
	}
	res.Duration = r.now().Sub(start)

	if err != nil {
		res.Outcome = OutcomeFailed
		res.Reason = err.Error()
		if errors.Is(err, client.ErrTimeout) {
			// The session survives a timeout; later responses for this id are
			// discarded by the client.
			r.l.WarnContext(ctx, "step timed out", slog.Any("err", err))
			return res, nil
		}
		r.l.ErrorContext(ctx, "session failed", slog.Any("err", err))
		return res, err
	}

	r.evaluate(ctx, st, resp, res, vars)
	return res, nil
}

func (r *Runner) evaluate(ctx context.Context, st *Step, resp *jsonrpc.Response, res *StepResult, vars map[string]string) {
	if resp.Error != nil {
		res.Error = resp.Error
		if st.Expect.Error {
			res.Outcome = OutcomePassed
			res.Summary = resp.Error.Message
			return
		}
		res.Outcome = OutcomeFailed
		r.l.WarnContext(ctx, "step returned an error",
			slog.Int("code", int(resp.Error.Code)),
			slog.String("message", resp.Error.Message),
		)
		return
	}

	result, err := extract.Result(resp)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Reason = err.Error()
		return
	}
	res.Summary = extract.FirstText(result)

	var problems []string
	if st.Expect.Error {
		if result == nil || !result.IsError {
			problems = append(problems, "expected an error response")
		}
	} else if result != nil && result.IsError {
		problems = append(problems, "tool reported isError")
	}
	if st.Expect.MinContent > 0 && (result == nil || len(result.Content) < st.Expect.MinContent) {
		n := 0
		if result != nil {
			n = len(result.Content)
		}
		problems = append(problems, fmt.Sprintf("got %d content items, want at least %d", n, st.Expect.MinContent))
	}
	if st.Expect.Contains != "" && !strings.Contains(res.Summary, st.Expect.Contains) {
		problems = append(problems, fmt.Sprintf("text does not contain %q", st.Expect.Contains))
	}

	for _, c := range st.Capture {
		e, err := extract.ByName(c.Using)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		v, ok := e.Extract(c.FieldName(), result)
		if !ok {
			// Dependent steps will be skipped; the step itself still ran.
			r.l.WarnContext(ctx, "could not capture value", slog.String("var", c.Var), slog.String("field", c.FieldName()))
			if res.Reason == "" {
				res.Reason = "no " + c.FieldName() + " in result"
			}
			continue
		}
		vars[c.Var] = v
		if res.Captured == nil {
			res.Captured = map[string]string{}
		}
		res.Captured[c.Var] = v
	}

	if len(problems) > 0 {
		res.Outcome = OutcomeFailed
		res.Reason = strings.Join(problems, "; ")
		return
	}
	res.Outcome = OutcomePassed
}
