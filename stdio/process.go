package stdio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	defaultMaxLineSize = 16 << 20
	defaultKillGrace   = 2 * time.Second
)

var (
	// ErrNotStarted is returned when using a Process before Start.
	ErrNotStarted = errors.New("stdio: process not started")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("stdio: process already started")
	// ErrClosed is returned when using a Process after Close.
	ErrClosed = errors.New("stdio: process closed")
	// ErrEmbeddedNewline is returned by SendLine for payloads spanning lines.
	ErrEmbeddedNewline = errors.New("stdio: line contains a line break")
)

// Process is a child process whose stdin/stdout carry newline-delimited text.
// It is owned by a single caller; SendLine and ReadLine are not meant to be
// called concurrently with themselves, while Close may be called from any
// goroutine at any time.
type Process struct {
	command     string
	args        []string
	env         []string
	dir         string
	stderr      io.Writer
	l           *slog.Logger
	maxLineSize int
	killGrace   time.Duration

	mu      sync.Mutex
	started bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser

	// Lines scanned from stdout wait in queue until read, so the scanner
	// never blocks on the consumer and the child is reaped as soon as it
	// exits.
	qmu     sync.Mutex
	queue   [][]byte
	eof     bool
	readErr error
	ready   chan struct{}
	done    chan struct{}

	exited  chan struct{}
	exitErr error

	closeOnce sync.Once
}

// NewProcess describes a child process. Nothing is spawned until Start.
func NewProcess(command string, args []string, opts ...Option) *Process {
	p := &Process{
		command:     command,
		args:        append([]string(nil), args...),
		l:           slog.Default(),
		maxLineSize: defaultMaxLineSize,
		killGrace:   defaultKillGrace,
		ready:       make(chan struct{}, 1),
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start spawns the child process. The context only bounds the spawn itself;
// the child's lifetime is ended by Close.
func (p *Process) Start(ctx context.Context) error {
	if p.command == "" {
		return errors.New("stdio: command is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	if p.started {
		return ErrAlreadyStarted
	}

	cmd := exec.Command(p.command, p.args...)
	cmd.Dir = p.dir
	if len(p.env) > 0 {
		cmd.Env = append(os.Environ(), p.env...)
	}
	// nil Stderr sends the child's stderr to the null device.
	cmd.Stderr = p.stderr
	cmd.WaitDelay = p.killGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdio: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return fmt.Errorf("stdio: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("stdio: start %s: %w", p.command, err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = stdout
	p.started = true

	p.l.Debug("started child process", slog.String("command", p.command), slog.Int("pid", cmd.Process.Pid))

	go p.readLoop()
	return nil
}

// readLoop scans stdout until EOF, then reaps the child. Wait is only called
// once every byte the child wrote has been scanned.
func (p *Process) readLoop() {
	err := p.scan()
	p.qmu.Lock()
	p.eof = true
	p.readErr = err
	p.qmu.Unlock()
	p.wake()

	err = p.cmd.Wait()
	p.exitErr = err
	close(p.exited)

	p.l.Debug("child process exited", slog.String("command", p.command), slog.Any("err", err))
}

func (p *Process) scan() error {
	sc := bufio.NewScanner(p.stdout)
	sc.Buffer(make([]byte, 0, 64*1024), p.maxLineSize)
	for sc.Scan() {
		select {
		case <-p.done:
			// Keep draining so the child never blocks on a full pipe.
			continue
		default:
		}
		line := bytes.TrimRight(sc.Bytes(), "\r")
		out := make([]byte, len(line))
		copy(out, line)

		p.qmu.Lock()
		p.queue = append(p.queue, out)
		p.qmu.Unlock()
		p.wake()
	}
	return sc.Err()
}

func (p *Process) wake() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// dequeue pops the oldest scanned line. It returns nil, nil when nothing is
// queued and stdout is still open.
func (p *Process) dequeue() ([]byte, error) {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	if len(p.queue) > 0 {
		line := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		return line, nil
	}
	if !p.eof {
		return nil, nil
	}
	if p.readErr != nil && !errors.Is(p.readErr, os.ErrClosed) {
		return nil, fmt.Errorf("stdio: read: %w", p.readErr)
	}
	return nil, io.EOF
}

// SendLine writes line followed by '\n' to the child's stdin. A write that
// is still blocked when ctx ends (the child stopped reading and the pipe is
// full) closes stdin, so the child sees EOF and later sends fail.
func (p *Process) SendLine(ctx context.Context, line []byte) error {
	if bytes.ContainsAny(line, "\r\n") {
		return ErrEmbeddedNewline
	}
	stdin, err := p.writer()
	if err != nil {
		return err
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	errc := make(chan error, 1)
	go func() {
		_, err := stdin.Write(buf)
		errc <- err
	}()
	var werr error
	select {
	case werr = <-errc:
	case <-ctx.Done():
		select {
		case werr = <-errc:
		default:
			p.l.Warn("child process is not reading stdin, closing it", slog.String("command", p.command))
			_ = stdin.Close()
			<-errc
			return fmt.Errorf("stdio: write stalled: %w", ctx.Err())
		}
	}
	if werr != nil {
		return fmt.Errorf("stdio: write: %w", werr)
	}
	return nil
}

func (p *Process) writer() (io.WriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}
	if !p.started {
		return nil, ErrNotStarted
	}
	return p.stdin, nil
}

// ReadLine blocks until a full line is available, returning it without the
// line terminator. Lines the child wrote before exiting are still returned;
// after them ReadLine returns io.EOF on every call. A done context aborts the
// wait with ctx.Err() and leaves any line queued for the next read.
func (p *Process) ReadLine(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}

	for {
		select {
		case <-p.done:
			return nil, ErrClosed
		default:
		}
		line, err := p.dequeue()
		if line != nil || err != nil {
			return line, err
		}
		select {
		case <-p.ready:
		case <-p.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Exited is closed once the child process has exited and been reaped.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// ExitErr returns the child's exit error. It is only meaningful after Exited
// is closed.
func (p *Process) ExitErr() error {
	select {
	case <-p.exited:
		return p.exitErr
	default:
		return nil
	}
}

// Pid returns the child's process id, or 0 before Start.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Close terminates the child process. It closes stdin, asks the child to
// terminate, and kills it if it has not exited within the kill grace period.
// Close is idempotent and safe to call after the child exited on its own.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		close(p.done)
		started := p.started
		p.mu.Unlock()
		if !started {
			return
		}
		p.terminate()
	})
	return nil
}

func (p *Process) terminate() {
	_ = p.stdin.Close()

	select {
	case <-p.exited:
		return
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		_ = p.cmd.Process.Kill()
	}

	timer := time.NewTimer(p.killGrace)
	defer timer.Stop()
	select {
	case <-p.exited:
		return
	case <-timer.C:
	}

	p.l.Warn("child process ignored termination, killing", slog.String("command", p.command), slog.Int("pid", p.cmd.Process.Pid))
	_ = p.cmd.Process.Kill()
	// A grandchild may still hold stdout open; closing our end unblocks the scanner.
	_ = p.stdout.Close()

	timer.Reset(p.killGrace)
	select {
	case <-p.exited:
	case <-timer.C:
		p.l.Error("child process did not exit after kill", slog.String("command", p.command))
	}
}
