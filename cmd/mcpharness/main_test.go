package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/ggoodman/mcp-stdio-harness/internal/fakeserver"
)

// TestFakeServerProcess is not a real test. It hosts the fake MCP server when
// the test binary is re-executed as a child process.
func TestFakeServerProcess(t *testing.T) {
	if os.Getenv("GO_WANT_FAKE_SERVER") != "1" {
		return
	}
	if err := fakeserver.Serve(os.Stdin, os.Stdout, fakeserver.Options{Noise: true, ExitOn: os.Getenv("FAKE_SERVER_EXIT_ON")}); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

// fakeServer returns the trailing arguments that make a command spawn this
// test binary as the fake server.
func fakeServer(t *testing.T) []string {
	t.Helper()
	t.Setenv("GO_WANT_FAKE_SERVER", "1")
	t.Setenv("MCPHARNESS_LOG_LEVEL", "error")
	return []string{"--", os.Args[0], "-test.run=^TestFakeServerProcess$", "--"}
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsage(t *testing.T) {
	if code, _, stderr := runCLI(t); code != exitFatal || !strings.Contains(stderr, "usage: mcpharness") {
		t.Fatalf("no args: code %d, stderr %q", code, stderr)
	}
	if code, _, stderr := runCLI(t, "frobnicate"); code != exitFatal || !strings.Contains(stderr, `unknown command "frobnicate"`) {
		t.Fatalf("unknown command: code %d, stderr %q", code, stderr)
	}
	if code, _, _ := runCLI(t, "run", "-nope"); code != exitFatal {
		t.Fatalf("bad flag: code %d", code)
	}
	if code, _, _ := runCLI(t, "list", "-h"); code != exitOK {
		t.Fatalf("-h: code %d", code)
	}
}

func TestListAndSchema(t *testing.T) {
	code, stdout, _ := runCLI(t, "list")
	if code != exitOK || !strings.Contains(stdout, "smoke") || !strings.Contains(stdout, "unknown-tool") {
		t.Fatalf("list: code %d\n%s", code, stdout)
	}

	code, stdout, _ = runCLI(t, "schema")
	if code != exitOK {
		t.Fatalf("schema: code %d", code)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		t.Fatalf("schema output is not JSON: %v", err)
	}
}

func TestRunSmoke(t *testing.T) {
	code, stdout, stderr := runCLI(t, append([]string{"run", "-scenario", "smoke"}, fakeServer(t)...)...)
	if code != exitOK {
		t.Fatalf("code %d\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	for _, want := range []string{"--- list tools ---", "--- create context ---", "context_id = ", "3 passed, 0 failed, 0 skipped"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("output lacks %q:\n%s", want, stdout)
		}
	}
}

func TestRunFileWithFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fails.yaml")
	doc := "name: fails\nsteps:\n  - label: missing tool\n    tool: nope\n  - label: still alive\n    method: ping\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	code, stdout, _ := runCLI(t, append([]string{"run", "-file", path}, fakeServer(t)...)...)
	if code != exitFailed {
		t.Fatalf("code %d, want %d\n%s", code, exitFailed, stdout)
	}
	if !strings.Contains(stdout, "❌ Error:") || !strings.Contains(stdout, "1 passed, 1 failed") {
		t.Fatalf("output:\n%s", stdout)
	}
}

func TestRunServerExits(t *testing.T) {
	args := fakeServer(t)
	t.Setenv("FAKE_SERVER_EXIT_ON", "create_context")
	code, stdout, stderr := runCLI(t, append([]string{"run", "-scenario", "smoke"}, args...)...)
	if code != exitFatal {
		t.Fatalf("code %d, want %d\n%s", code, exitFatal, stdout)
	}
	if !strings.Contains(stdout, "Aborted") || !strings.Contains(stderr, "server output closed") {
		t.Fatalf("stdout:\n%s\nstderr:\n%s", stdout, stderr)
	}
}

func TestRunRejectsConflictingFlags(t *testing.T) {
	if code, _, stderr := runCLI(t, "run", "-scenario", "smoke", "-file", "x.yaml"); code != exitFatal || !strings.Contains(stderr, "mutually exclusive") {
		t.Fatalf("code %d, stderr %q", code, stderr)
	}
	if code, _, stderr := runCLI(t, "run", "-watch"); code != exitFatal || !strings.Contains(stderr, "-watch requires -file") {
		t.Fatalf("code %d, stderr %q", code, stderr)
	}
}

func TestCall(t *testing.T) {
	code, stdout, stderr := runCLI(t, append([]string{"call", "-tool", "create_context", "-args", `{"name":"cli"}`}, fakeServer(t)...)...)
	if code != exitOK || !strings.HasPrefix(stdout, "✅ ") || !strings.Contains(stdout, "context_id") {
		t.Fatalf("code %d\nstdout: %s\nstderr: %s", code, stdout, stderr)
	}

	code, stdout, _ = runCLI(t, append([]string{"call", "-tool", "nope"}, fakeServer(t)...)...)
	if code != exitFailed || !strings.Contains(stdout, "unknown tool") {
		t.Fatalf("unknown tool: code %d\n%s", code, stdout)
	}

	if code, _, _ := runCLI(t, "call"); code != exitFatal {
		t.Fatalf("missing -tool: code %d", code)
	}
	if code, _, _ := runCLI(t, "call", "-tool", "x", "-args", "[1"); code != exitFatal {
		t.Fatalf("bad -args: code %d", code)
	}
}

func TestTools(t *testing.T) {
	code, stdout, _ := runCLI(t, append([]string{"tools"}, fakeServer(t)...)...)
	if code != exitOK || !strings.Contains(stdout, "create_context") || !strings.Contains(stdout, "search_memories") {
		t.Fatalf("code %d\n%s", code, stdout)
	}

	code, stdout, _ = runCLI(t, append([]string{"tools", "-json"}, fakeServer(t)...)...)
	var tools []map[string]any
	if code != exitOK || json.Unmarshal([]byte(stdout), &tools) != nil || len(tools) == 0 {
		t.Fatalf("-json: code %d\n%s", code, stdout)
	}
}

func TestReportsWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("MCPHARNESS_STORE", "redis")
	t.Setenv("REDIS_ADDR", mr.Addr())

	if code, stdout, stderr := runCLI(t, append([]string{"run", "-scenario", "handshake"}, fakeServer(t)...)...); code != exitOK {
		t.Fatalf("run: code %d\n%s\n%s", code, stdout, stderr)
	}

	code, stdout, _ := runCLI(t, "reports", "-scenario", "handshake")
	if code != exitOK {
		t.Fatalf("reports: code %d", code)
	}
	fields := strings.Fields(stdout)
	if len(fields) < 4 || !strings.Contains(stdout, " ok ") {
		t.Fatalf("reports output:\n%s", stdout)
	}

	code, stdout, _ = runCLI(t, "reports", "-scenario", "handshake", "-run", fields[0])
	if code != exitOK || !strings.Contains(stdout, `"run_id": "`+fields[0]+`"`) {
		t.Fatalf("reports -run: code %d\n%s", code, stdout)
	}

	if code, _, stderr := runCLI(t, "reports", "-scenario", "*", "-purge"); code != exitFatal || !strings.Contains(stderr, "invalid scenario name") {
		t.Fatalf("purge with pattern name: code %d, stderr %q", code, stderr)
	}
	if _, stdout, _ := runCLI(t, "reports", "-scenario", "handshake"); !strings.Contains(stdout, fields[0]) {
		t.Fatalf("pattern purge removed reports:\n%s", stdout)
	}

	if code, _, _ := runCLI(t, "reports", "-scenario", "handshake", "-purge"); code != exitOK {
		t.Fatalf("purge: code %d", code)
	}
	if _, stdout, _ := runCLI(t, "reports", "-scenario", "handshake"); strings.TrimSpace(stdout) != "" {
		t.Fatalf("reports after purge:\n%s", stdout)
	}
}

func TestReportsWithoutStore(t *testing.T) {
	t.Setenv("MCPHARNESS_STORE", "none")
	if code, _, stderr := runCLI(t, "reports"); code != exitFatal || !strings.Contains(stderr, "no report store") {
		t.Fatalf("code %d, stderr %q", code, stderr)
	}
}

func TestVarsFlag(t *testing.T) {
	v := varsFlag{}
	if err := v.Set("b=2"); err != nil {
		t.Fatal(err)
	}
	if err := v.Set("a=x=y"); err != nil {
		t.Fatal(err)
	}
	if err := v.Set("novalue"); err == nil {
		t.Fatal("expected error for missing =")
	}
	if got := v.String(); got != "a=x=y,b=2" {
		t.Fatalf("String = %q", got)
	}
}
