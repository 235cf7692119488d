package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/ggoodman/mcp-stdio-harness/extract"
	"github.com/ggoodman/mcp-stdio-harness/scenario"
)

const defaultScenario = "smoke"

func usageCode(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	return exitFatal
}

func (e *env) fail(cmd string, err error) int {
	fmt.Fprintf(e.stderr, "mcpharness %s: %v\n", cmd, err)
	return exitFatal
}

func cmdRun(ctx context.Context, e *env, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	name := fs.String("scenario", "", "builtin scenario to run (default "+defaultScenario+")")
	file := fs.String("file", "", "scenario file to run")
	watch := fs.Bool("watch", false, "re-run -file whenever it changes")
	verbose := fs.Bool("v", false, "print the full text of each result")
	vars := varsFlag{}
	fs.Var(vars, "var", "set a scenario variable as `key=value` (repeatable)")
	e.serverFlags(fs)
	if err := e.parse(fs, args); err != nil {
		return usageCode(err)
	}

	switch {
	case *name != "" && *file != "":
		return e.fail("run", errors.New("-scenario and -file are mutually exclusive"))
	case *watch && *file == "":
		return e.fail("run", errors.New("-watch requires -file"))
	}

	rec, err := e.recorder()
	if err != nil {
		return e.fail("run", err)
	}
	reporter := &scenario.TextReporter{W: e.stdout, Verbose: *verbose}

	runOnce := func(ctx context.Context, sc *scenario.Scenario) int {
		c, err := e.connect(ctx, fs.Args(), sc)
		if err != nil {
			return e.fail("run", err)
		}
		defer c.Close()

		r := scenario.NewRunner(c,
			scenario.WithLogger(e.l),
			scenario.WithReporter(reporter),
			scenario.WithVars(vars),
		)
		rep, runErr := r.Run(ctx, sc)
		if rec != nil {
			if err := rec.Save(ctx, rep); err != nil {
				e.l.WarnContext(ctx, "saving report", slog.String("run_id", rep.RunID), slog.String("error", err.Error()))
			}
		}
		switch {
		case runErr != nil:
			return e.fail("run", runErr)
		case !rep.OK():
			return exitFailed
		}
		return exitOK
	}

	if *watch {
		err := scenario.Watch(ctx, *file, e.l, func(ctx context.Context, sc *scenario.Scenario) error {
			runOnce(ctx, sc)
			return nil
		})
		if err != nil {
			return e.fail("run", err)
		}
		return exitOK
	}

	var sc *scenario.Scenario
	if *file != "" {
		sc, err = scenario.Load(*file)
	} else {
		if *name == "" {
			*name = defaultScenario
		}
		sc, err = scenario.Builtin(*name)
	}
	if err != nil {
		return e.fail("run", err)
	}
	return runOnce(ctx, sc)
}

func cmdCall(ctx context.Context, e *env, args []string) int {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	tool := fs.String("tool", "", "tool to call (required)")
	rawArgs := fs.String("args", "{}", "tool arguments as a JSON object")
	asJSON := fs.Bool("json", false, "print the raw result")
	e.serverFlags(fs)
	if err := e.parse(fs, args); err != nil {
		return usageCode(err)
	}
	if *tool == "" {
		return e.fail("call", errors.New("-tool is required"))
	}
	var arguments map[string]any
	if err := json.Unmarshal([]byte(*rawArgs), &arguments); err != nil {
		return e.fail("call", fmt.Errorf("-args: %w", err))
	}

	c, err := e.connect(ctx, fs.Args(), nil)
	if err != nil {
		return e.fail("call", err)
	}
	defer c.Close()

	resp, err := c.CallTool(ctx, *tool, arguments)
	if err != nil {
		return e.fail("call", err)
	}
	if resp.Error != nil {
		b, _ := json.Marshal(resp.Error)
		fmt.Fprintf(e.stdout, "❌ Error: %s\n", b)
		return exitFailed
	}
	if *asJSON {
		return e.printJSON(resp.Result)
	}
	res, err := extract.Result(resp)
	if err != nil {
		return e.fail("call", err)
	}
	if res != nil && res.IsError {
		fmt.Fprintf(e.stdout, "❌ %s\n", extract.FirstText(res))
		return exitFailed
	}
	fmt.Fprintf(e.stdout, "✅ %s\n", extract.FirstText(res))
	return exitOK
}

func cmdTools(ctx context.Context, e *env, args []string) int {
	fs := flag.NewFlagSet("tools", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print tool descriptors as JSON")
	e.serverFlags(fs)
	if err := e.parse(fs, args); err != nil {
		return usageCode(err)
	}

	c, err := e.connect(ctx, fs.Args(), nil)
	if err != nil {
		return e.fail("tools", err)
	}
	defer c.Close()

	res, err := c.ListTools(ctx)
	if err != nil {
		return e.fail("tools", err)
	}
	if *asJSON {
		return e.printJSON(res.Tools)
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	for _, t := range res.Tools {
		desc, _, _ := strings.Cut(t.Description, "\n")
		fmt.Fprintf(tw, "%s\t%s\n", t.Name, desc)
	}
	tw.Flush()
	return exitOK
}

func cmdList(_ context.Context, e *env, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	if err := e.parse(fs, args); err != nil {
		return usageCode(err)
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	for _, name := range scenario.BuiltinNames() {
		sc, err := scenario.Builtin(name)
		if err != nil {
			return e.fail("list", err)
		}
		fmt.Fprintf(tw, "%s\t%d steps\t%s\n", name, len(sc.Steps), sc.Description)
	}
	tw.Flush()
	return exitOK
}

func cmdSchema(_ context.Context, e *env, args []string) int {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	if err := e.parse(fs, args); err != nil {
		return usageCode(err)
	}
	b, err := scenario.SchemaJSON()
	if err != nil {
		return e.fail("schema", err)
	}
	fmt.Fprintln(e.stdout, string(b))
	return exitOK
}

func cmdReports(ctx context.Context, e *env, args []string) int {
	fs := flag.NewFlagSet("reports", flag.ContinueOnError)
	name := fs.String("scenario", defaultScenario, "scenario whose reports to show")
	runID := fs.String("run", "", "print one report in full")
	purge := fs.Bool("purge", false, "delete every stored report of the scenario")
	if err := e.parse(fs, args); err != nil {
		return usageCode(err)
	}

	rec, err := e.recorder()
	if err != nil {
		return e.fail("reports", err)
	}
	if rec == nil {
		return e.fail("reports", errNoStore)
	}

	switch {
	case *purge:
		if err := rec.Purge(ctx, *name); err != nil {
			return e.fail("reports", err)
		}
		return exitOK
	case *runID != "":
		rep, err := rec.Get(ctx, *name, *runID)
		if err != nil {
			return e.fail("reports", err)
		}
		return e.printJSON(rep)
	}

	reps, err := rec.List(ctx, *name)
	if err != nil {
		return e.fail("reports", err)
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	for _, rep := range reps {
		passed, failed, skipped := rep.Counts()
		status := "ok"
		if rep.Aborted != "" {
			status = "aborted"
		} else if failed > 0 {
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d/%d\n",
			rep.RunID, rep.StartedAt.Format("2006-01-02 15:04:05"), status, passed, failed, skipped)
	}
	tw.Flush()
	return exitOK
}

func (e *env) printJSON(v any) int {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(e.stderr, "mcpharness: %v\n", err)
		return exitFatal
	}
	fmt.Fprintln(e.stdout, string(b))
	return exitOK
}

// varsFlag collects repeated -var key=value flags.
type varsFlag map[string]string

func (v varsFlag) String() string {
	pairs := make([]string, 0, len(v))
	for _, k := range slices.Sorted(maps.Keys(v)) {
		pairs = append(pairs, k+"="+v[k])
	}
	return strings.Join(pairs, ",")
}

func (v varsFlag) Set(s string) error {
	k, val, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("want key=value, got %q", s)
	}
	v[k] = val
	return nil
}
