// Package logctx enriches slog records with harness context: the scenario
// and step being executed and the JSON-RPC message being handled.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and appends attribute groups for any
// context values set with the With* helpers.
type Handler struct {
	slog.Handler
}

// NewLogger returns a logger whose handler is h wrapped in Handler.
func NewLogger(h slog.Handler) *slog.Logger {
	return slog.New(Handler{Handler: h})
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(scenarioDataKey{}).(*ScenarioData); ok {
		r.AddAttrs(slog.Group("scenario",
			slog.String("name", sd.Name),
			slog.String("run_id", sd.RunID),
		))
	}

	if st, ok := ctx.Value(stepDataKey{}).(*StepData); ok {
		r.AddAttrs(slog.Group("step",
			slog.Int("index", st.Index),
			slog.String("label", st.Label),
			slog.String("tool", st.Tool),
		))
	}

	if msg, ok := ctx.Value(rpcMsg{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type rpcMsg struct{}

type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsg{}, msg)
}

type scenarioDataKey struct{}

type ScenarioData struct {
	Name  string
	RunID string
}

func WithScenarioData(ctx context.Context, data *ScenarioData) context.Context {
	return context.WithValue(ctx, scenarioDataKey{}, data)
}

type stepDataKey struct{}

type StepData struct {
	Index int
	Label string
	Tool  string
}

func WithStepData(ctx context.Context, data *StepData) context.Context {
	return context.WithValue(ctx, stepDataKey{}, data)
}
