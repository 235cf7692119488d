package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// TestHelperProcess is not a real test. It is re-executed as the child
// process by the tests below, behaving according to HELPER_MODE.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	in := bufio.NewScanner(os.Stdin)
	switch os.Getenv("HELPER_MODE") {
	case "echo":
		for in.Scan() {
			fmt.Fprintf(os.Stdout, "echo: %s\n", in.Text())
		}
	case "exit":
		fmt.Fprintln(os.Stdout, "first")
		fmt.Fprint(os.Stdout, "second\r\n")
		os.Exit(0)
	case "stderr":
		fmt.Fprintln(os.Stderr, "diagnostic on stderr")
		fmt.Fprintln(os.Stdout, "done")
		for in.Scan() {
		}
	case "silent":
		for in.Scan() {
		}
	case "deaf":
		time.Sleep(time.Hour)
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		for in.Scan() {
		}
		time.Sleep(time.Hour)
	}
}

func helperProcess(mode string, opts ...Option) *Process {
	base := []Option{
		WithEnv("GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithKillGrace(200 * time.Millisecond),
	}
	return NewProcess(os.Args[0], []string{"-test.run=TestHelperProcess", "--"}, append(base, opts...)...)
}

func startHelper(t *testing.T, mode string, opts ...Option) *Process {
	t.Helper()
	p := helperProcess(mode, opts...)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func readLine(t *testing.T, p *Process) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	line, err := p.ReadLine(ctx)
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	return string(line)
}

func TestProcess_SendAndReadLine(t *testing.T) {
	t.Parallel()

	p := startHelper(t, "echo")
	for _, msg := range []string{"hello", `{"jsonrpc":"2.0","id":1,"method":"ping"}`} {
		if err := p.SendLine(context.Background(), []byte(msg)); err != nil {
			t.Fatalf("SendLine: %v", err)
		}
		if got, want := readLine(t, p), "echo: "+msg; got != want {
			t.Fatalf("ReadLine = %q, want %q", got, want)
		}
	}
}

func TestProcess_SendLineRejectsLineBreaks(t *testing.T) {
	t.Parallel()

	p := startHelper(t, "echo")
	if err := p.SendLine(context.Background(), []byte("a\nb")); !errors.Is(err, ErrEmbeddedNewline) {
		t.Fatalf("SendLine error = %v, want ErrEmbeddedNewline", err)
	}
}

func TestProcess_EOFAfterExit(t *testing.T) {
	t.Parallel()

	p := startHelper(t, "exit")
	if got := readLine(t, p); got != "first" {
		t.Fatalf("line 1 = %q", got)
	}
	if got := readLine(t, p); got != "second" {
		t.Fatalf("line 2 = %q, want carriage return trimmed", got)
	}
	for i := 0; i < 2; i++ {
		if _, err := p.ReadLine(context.Background()); !errors.Is(err, io.EOF) {
			t.Fatalf("ReadLine after exit = %v, want io.EOF", err)
		}
	}

	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("Exited not closed")
	}
	if err := p.ExitErr(); err != nil {
		t.Fatalf("ExitErr = %v, want nil", err)
	}
}

func TestProcess_ReadLineHonoursContext(t *testing.T) {
	t.Parallel()

	p := startHelper(t, "silent")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.ReadLine(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ReadLine error = %v, want deadline exceeded", err)
	}
}

func TestProcess_StderrForwarding(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	p := startHelper(t, "stderr", WithStderr(&buf))
	if got := readLine(t, p); got != "done" {
		t.Fatalf("ReadLine = %q", got)
	}
	_ = p.Close()
	if !strings.Contains(buf.String(), "diagnostic on stderr") {
		t.Fatalf("stderr not forwarded, got %q", buf.String())
	}
}

func TestProcess_CloseIdempotent(t *testing.T) {
	t.Parallel()

	p := startHelper(t, "silent")
	if err := p.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := p.SendLine(context.Background(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("SendLine after Close = %v, want ErrClosed", err)
	}
	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("process still running after Close")
	}
}

func TestProcess_CloseAfterSelfExit(t *testing.T) {
	t.Parallel()

	p := startHelper(t, "exit")
	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("helper did not exit")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close after exit: %v", err)
	}
}

func TestProcess_ExitedBeforeOutputRead(t *testing.T) {
	t.Parallel()

	p := startHelper(t, "exit")
	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("Exited not closed while output was unread")
	}
	if err := p.ExitErr(); err != nil {
		t.Fatalf("ExitErr = %v, want nil", err)
	}
	if got := readLine(t, p); got != "first" {
		t.Fatalf("line 1 = %q", got)
	}
	if got := readLine(t, p); got != "second" {
		t.Fatalf("line 2 = %q", got)
	}
	if _, err := p.ReadLine(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadLine after queued lines = %v, want io.EOF", err)
	}
}

func TestProcess_SendLineStalledWriteIsBounded(t *testing.T) {
	t.Parallel()

	p := startHelper(t, "deaf")
	big := []byte(strings.Repeat("x", 1<<20))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := p.SendLine(ctx, big)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("SendLine = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("SendLine took %s", elapsed)
	}
	if err := p.SendLine(context.Background(), []byte("again")); err == nil {
		t.Fatal("SendLine after a stalled write should fail")
	}
}

func TestProcess_CloseKillsStubbornChild(t *testing.T) {
	t.Parallel()

	p := startHelper(t, "stubborn")
	start := time.Now()
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Close took %s", elapsed)
	}
	select {
	case <-p.Exited():
	default:
		t.Fatal("stubborn child still running after Close")
	}
}

func TestProcess_Lifecycle(t *testing.T) {
	t.Parallel()

	p := helperProcess("silent")
	if err := p.SendLine(context.Background(), []byte("x")); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("SendLine before Start = %v, want ErrNotStarted", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close before Start: %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close = %v, want ErrClosed", err)
	}

	q := startHelper(t, "silent")
	if err := q.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}
	if q.Pid() == 0 {
		t.Fatal("Pid should be set after Start")
	}
}

func TestProcess_StartMissingBinary(t *testing.T) {
	t.Parallel()

	p := NewProcess("./definitely-not-a-real-binary", nil)
	if err := p.Start(context.Background()); err == nil {
		_ = p.Close()
		t.Fatal("expected error starting a missing binary")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close after failed Start: %v", err)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
