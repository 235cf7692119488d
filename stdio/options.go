package stdio

import (
	"io"
	"log/slog"
	"time"
)

// Option customizes a Process.
type Option func(*Process)

// WithEnv appends environment entries ("KEY=value") to the inherited
// environment of the child process.
func WithEnv(env ...string) Option {
	return func(p *Process) {
		p.env = append(p.env, env...)
	}
}

// WithDir sets the working directory of the child process.
func WithDir(dir string) Option {
	return func(p *Process) {
		p.dir = dir
	}
}

// WithStderr forwards the child's stderr to w. By default stderr is discarded.
func WithStderr(w io.Writer) Option {
	return func(p *Process) {
		if w != nil {
			p.stderr = w
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Process) {
		if l != nil {
			p.l = l
		}
	}
}

// WithMaxLineSize bounds the length of a single line read from stdout.
func WithMaxLineSize(n int) Option {
	return func(p *Process) {
		if n > 0 {
			p.maxLineSize = n
		}
	}
}

// WithKillGrace sets how long Close waits for the child to exit after asking
// it to terminate before killing it.
func WithKillGrace(d time.Duration) Option {
	return func(p *Process) {
		if d > 0 {
			p.killGrace = d
		}
	}
}
