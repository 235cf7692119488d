package client

import (
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-stdio-harness/mcp"
	"github.com/ggoodman/mcp-stdio-harness/stdio"
)

// Option customizes a Client.
type Option func(*Client)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.l = l
		}
	}
}

// WithProtocolVersion sets the protocol version announced in initialize.
func WithProtocolVersion(v string) Option {
	return func(c *Client) {
		if v != "" {
			c.protocolVersion = v
		}
	}
}

// WithClientInfo sets the clientInfo announced in initialize.
func WithClientInfo(info mcp.ImplementationInfo) Option {
	return func(c *Client) {
		if info.Name != "" {
			c.clientInfo = info
		}
	}
}

// WithCallTimeout bounds how long a single call waits for its response.
// Zero means calls wait until the caller's context ends.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// WithInitTimeout bounds the initialize exchange. Zero falls back to the
// call timeout.
func WithInitTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.initTimeout = d
	}
}

// WithClockIDs derives request ids from the wall clock in milliseconds.
// Ids still never repeat or decrease within a session.
func WithClockIDs() Option {
	return func(c *Client) {
		c.ids.clock = func() int64 { return time.Now().UnixMilli() }
	}
}

// WithProcessOptions passes options to the stdio.Process spawned by New.
// It has no effect on clients built with NewWithTransport.
func WithProcessOptions(opts ...stdio.Option) Option {
	return func(c *Client) {
		c.procOpts = append(c.procOpts, opts...)
	}
}
