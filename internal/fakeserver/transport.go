package fakeserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Transport after Close.
var ErrClosed = errors.New("fakeserver: transport closed")

// Transport runs Serve in-process and exposes it through the same line
// interface a subprocess offers. It satisfies client.Transport.
type Transport struct {
	opts Options

	inW   *io.PipeWriter
	lines chan []byte
	done  chan struct{}
	once  sync.Once
}

// NewTransport returns an unstarted Transport.
func NewTransport(opts Options) *Transport {
	return &Transport{opts: opts, done: make(chan struct{})}
}

func (t *Transport) Start(ctx context.Context) error {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	t.inW = inW
	t.lines = make(chan []byte, 1024)

	go func() {
		err := Serve(inR, outW, t.opts)
		_ = inR.CloseWithError(io.ErrClosedPipe)
		_ = outW.CloseWithError(err)
	}()
	go func() {
		defer close(t.lines)
		sc := bufio.NewScanner(outR)
		for sc.Scan() {
			t.lines <- append([]byte(nil), sc.Bytes()...)
		}
	}()
	return nil
}

func (t *Transport) SendLine(_ context.Context, line []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	_, err := t.inW.Write(append(append([]byte(nil), line...), '\n'))
	return err
}

func (t *Transport) ReadLine(ctx context.Context) ([]byte, error) {
	select {
	case line, ok := <-t.lines:
		if !ok {
			return nil, io.EOF
		}
		return line, nil
	case <-t.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the server by closing its input.
func (t *Transport) Close() error {
	t.once.Do(func() {
		close(t.done)
		if t.inW != nil {
			_ = t.inW.Close()
		}
	})
	return nil
}
