package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/mcp-stdio-harness/internal/jsonrpc"
	"github.com/ggoodman/mcp-stdio-harness/internal/logctx"
	"github.com/ggoodman/mcp-stdio-harness/mcp"
	"github.com/ggoodman/mcp-stdio-harness/stdio"
)

// cancelSendTimeout bounds the notifications/cancelled write after a timeout.
const cancelSendTimeout = time.Second

// Transport moves newline-delimited lines to and from a server.
// *stdio.Process is the production implementation.
type Transport interface {
	Start(ctx context.Context) error
	SendLine(ctx context.Context, line []byte) error
	ReadLine(ctx context.Context) ([]byte, error)
	Close() error
}

// State is the lifecycle state of a Client.
type State int

const (
	StateUnstarted State = iota
	StateHandshaking
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Client is a single MCP session with one server process.
type Client struct {
	t               Transport
	l               *slog.Logger
	protocolVersion string
	clientInfo      mcp.ImplementationInfo
	callTimeout     time.Duration
	initTimeout     time.Duration
	procOpts        []stdio.Option

	// callMu serializes round trips; a session has one request in flight.
	callMu sync.Mutex
	ids    idAllocator

	mu         sync.Mutex
	state      State
	initResult *mcp.InitializeResult
}

// New returns a Client that will spawn command with args on Start.
func New(command string, args []string, opts ...Option) *Client {
	c := newClient(opts...)
	procOpts := append([]stdio.Option{stdio.WithLogger(c.l)}, c.procOpts...)
	c.t = stdio.NewProcess(command, args, procOpts...)
	return c
}

// NewWithTransport returns a Client speaking over t.
func NewWithTransport(t Transport, opts ...Option) *Client {
	c := newClient(opts...)
	c.t = t
	return c
}

func newClient(opts ...Option) *Client {
	c := &Client{
		l:               slog.Default(),
		protocolVersion: mcp.DefaultProtocolVersion,
		clientInfo:      mcp.ImplementationInfo{Name: "mcp-stdio-harness", Version: "1.0"},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerInfo returns the server identification received during initialize.
func (c *Client) ServerInfo() mcp.ImplementationInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initResult == nil {
		return mcp.ImplementationInfo{}
	}
	return c.initResult.ServerInfo
}

// Start spawns the server and performs the initialize handshake. On any
// failure the server process is terminated and a *StartupError returned.
func (c *Client) Start(ctx context.Context) (*mcp.InitializeResult, error) {
	c.mu.Lock()
	switch c.state {
	case StateUnstarted:
		c.state = StateHandshaking
	case StateClosed:
		c.mu.Unlock()
		return nil, ErrClosed
	default:
		c.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	c.mu.Unlock()

	if err := c.t.Start(ctx); err != nil {
		_ = c.Close()
		return nil, &StartupError{Err: err}
	}

	res, err := c.handshake(ctx)
	if err != nil {
		_ = c.Close()
		return nil, &StartupError{Err: err}
	}

	c.mu.Lock()
	if c.state != StateHandshaking {
		// Closed concurrently while handshaking.
		c.mu.Unlock()
		return nil, &StartupError{Err: ErrClosed}
	}
	c.state = StateReady
	c.initResult = res
	c.mu.Unlock()

	c.l.InfoContext(ctx, "mcp session ready",
		slog.String("server", res.ServerInfo.Name),
		slog.String("server_version", res.ServerInfo.Version),
		slog.String("protocol_version", res.ProtocolVersion),
	)
	return res, nil
}

func (c *Client) handshake(ctx context.Context) (*mcp.InitializeResult, error) {
	timeout := c.initTimeout
	if timeout == 0 {
		timeout = c.callTimeout
	}

	req := mcp.InitializeRequest{
		ProtocolVersion: c.protocolVersion,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo:      c.clientInfo,
	}
	resp, err := c.roundTrip(ctx, timeout, string(mcp.InitializeMethod), req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("initialize rejected: %w", resp.Error)
	}

	var res mcp.InitializeResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		return nil, fmt.Errorf("decode initialize result: %w", err)
	}
	if res.ServerInfo.Name == "" {
		return nil, ErrMissingServerInfo
	}
	if res.ProtocolVersion != "" && res.ProtocolVersion != c.protocolVersion {
		c.l.WarnContext(ctx, "server negotiated a different protocol version",
			slog.String("client_protocol", c.protocolVersion),
			slog.String("server_protocol", res.ProtocolVersion),
		)
	}

	if err := c.notify(ctx, string(mcp.InitializedNotificationMethod), nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// Call sends a request and waits for the response carrying the same id.
// A returned error means no correlated response was obtained; a response
// whose Error field is set is returned without error.
func (c *Client) Call(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, c.callTimeout, method, params)
}

// CallTool invokes tools/call for the named tool. Nil arguments are sent as
// an empty object.
func (c *Client) CallTool(ctx context.Context, name string, arguments any) (*jsonrpc.Response, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	return c.Call(ctx, string(mcp.ToolsCallMethod), mcp.CallToolRequest{Name: name, Arguments: arguments})
}

// ListTools returns every tool the server advertises, following pagination.
func (c *Client) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	out := &mcp.ListToolsResult{}
	seen := map[string]bool{}
	var cursor string
	for {
		resp, err := c.Call(ctx, string(mcp.ToolsListMethod), mcp.ListToolsRequest{PaginatedRequest: mcp.PaginatedRequest{Cursor: cursor}})
		if err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		var page mcp.ListToolsResult
		if err := json.Unmarshal(resp.Result, &page); err != nil {
			return nil, fmt.Errorf("decode tools/list result: %w", err)
		}
		out.Tools = append(out.Tools, page.Tools...)
		if page.NextCursor == "" || seen[page.NextCursor] {
			return out, nil
		}
		seen[page.NextCursor] = true
		cursor = page.NextCursor
	}
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Call(ctx, string(mcp.PingMethod), nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// Close terminates the server process. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()

	return c.t.Close()
}

func (c *Client) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateReady:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotReady
	}
}

func (c *Client) roundTrip(ctx context.Context, timeout time.Duration, method string, params any) (*jsonrpc.Response, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	id := jsonrpc.IntID(c.ids.next())
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	if err := c.send(ctx, req); err != nil {
		return nil, err
	}
	resp, err := c.await(ctx, method, id)
	if errors.Is(err, ErrTimeout) {
		c.cancel(ctx, id)
	}
	return resp, err
}

// cancel tells the server the client gave up on request id.
func (c *Client) cancel(ctx context.Context, id *jsonrpc.RequestID) {
	ctx, done := context.WithTimeout(context.WithoutCancel(ctx), cancelSendTimeout)
	defer done()
	err := c.notify(ctx, string(mcp.CancelledNotificationMethod), mcp.CancelledNotification{
		RequestID: id.Value(),
		Reason:    "timeout",
	})
	if err != nil {
		c.l.DebugContext(ctx, "failed to send cancellation", slog.String("id", id.String()), slog.Any("err", err))
	}
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.send(ctx, n)
}

func (c *Client) send(ctx context.Context, v any) error {
	line, err := jsonrpc.EncodeLine(v)
	if err != nil {
		return err
	}
	if c.l.Enabled(ctx, slog.LevelDebug) {
		c.l.DebugContext(rpcContext(ctx, v), "sending message", slog.String("line", string(line)))
	}
	if err := c.t.SendLine(ctx, line); err != nil {
		if errors.Is(err, stdio.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

func (c *Client) await(ctx context.Context, method string, id *jsonrpc.RequestID) (*jsonrpc.Response, error) {
	for {
		line, err := c.t.ReadLine(ctx)
		if err != nil {
			return nil, c.readError(ctx, method, id, err)
		}

		msg, err := jsonrpc.DecodeLine(line)
		if errors.Is(err, jsonrpc.ErrNonProtocolLine) {
			if len(bytes.TrimSpace(line)) > 0 {
				c.l.DebugContext(ctx, "non-protocol line", slog.String("line", string(line)))
			}
			continue
		}
		if err != nil {
			c.l.ErrorContext(ctx, "failed to decode server message", slog.String("line", string(line)), slog.Any("err", err))
			return nil, err
		}

		switch msg.Type() {
		case jsonrpc.TypeResponse:
			resp := msg.AsResponse()
			if resp.ID.IsNil() && resp.Error != nil {
				// The server could not read the request well enough to echo
				// its id. Only one request is ever outstanding.
				c.l.WarnContext(ctx, "server answered with a null id error",
					slog.String("awaiting_id", id.String()),
					slog.String("error", resp.Error.Message),
				)
				return resp, nil
			}
			if resp.ID.Equal(id) {
				if c.l.Enabled(ctx, slog.LevelDebug) {
					c.l.DebugContext(rpcContext(ctx, resp), "received response", slog.String("method", method), slog.String("line", string(line)))
				}
				return resp, nil
			}
			c.l.WarnContext(ctx, "discarding response for another request",
				slog.String("awaiting_id", id.String()),
				slog.String("received_id", resp.ID.String()),
			)
		case jsonrpc.TypeNotification:
			c.handleNotification(ctx, msg.AsRequest())
		case jsonrpc.TypeRequest:
			if err := c.handleServerRequest(ctx, msg.AsRequest()); err != nil {
				return nil, err
			}
		}
	}
}

func (c *Client) readError(ctx context.Context, method string, id *jsonrpc.RequestID, err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w while awaiting %s (id %s)", ErrStreamClosed, method, id)
	case errors.Is(err, stdio.ErrClosed):
		return ErrClosed
	case errors.Is(err, context.DeadlineExceeded):
		c.l.WarnContext(ctx, "timed out waiting for response", slog.String("method", method), slog.String("id", id.String()))
		return fmt.Errorf("%w: %s (id %s): %w", ErrTimeout, method, id, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("client: read: %w", err)
	}
}

func (c *Client) handleNotification(ctx context.Context, n *jsonrpc.Request) {
	switch mcp.Method(n.Method) {
	case mcp.LoggingMessageNotificationMethod:
		var msg mcp.LoggingMessageNotification
		if err := json.Unmarshal(n.Params, &msg); err != nil {
			c.l.DebugContext(ctx, "malformed server log notification", slog.Any("err", err))
			return
		}
		c.l.Log(ctx, serverLogLevel(msg.Level), "server log", slog.String("logger", msg.Logger), slog.Any("data", msg.Data))
	case mcp.ProgressNotificationMethod:
		var p mcp.ProgressNotification
		if err := json.Unmarshal(n.Params, &p); err != nil {
			c.l.DebugContext(ctx, "malformed progress notification", slog.Any("err", err))
			return
		}
		c.l.InfoContext(ctx, "server progress",
			slog.Any("token", p.ProgressToken),
			slog.Float64("progress", p.Progress),
			slog.Float64("total", p.Total),
			slog.String("message", p.Message),
		)
	case mcp.ToolsListChangedNotificationMethod:
		c.l.InfoContext(ctx, "server tool list changed")
	default:
		c.l.DebugContext(ctx, "ignoring server notification", slog.String("method", n.Method))
	}
}

// handleServerRequest answers requests the server originates. The harness
// advertises no client capabilities, so only ping is honoured.
func (c *Client) handleServerRequest(ctx context.Context, r *jsonrpc.Request) error {
	var resp *jsonrpc.Response
	if r.Method == string(mcp.PingMethod) {
		var err error
		resp, err = jsonrpc.NewResultResponse(r.ID, mcp.EmptyResult{})
		if err != nil {
			return err
		}
	} else {
		c.l.DebugContext(ctx, "rejecting server request", slog.String("method", r.Method))
		resp = jsonrpc.NewErrorResponse(r.ID, jsonrpc.ErrorCodeMethodNotFound, "method not supported by client", r.Method)
	}
	return c.send(ctx, resp)
}

func serverLogLevel(l mcp.LoggingLevel) slog.Level {
	switch l {
	case mcp.LoggingLevelDebug:
		return slog.LevelDebug
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		return slog.LevelInfo
	case mcp.LoggingLevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func rpcContext(ctx context.Context, v any) context.Context {
	msg := &logctx.RPCMessage{}
	switch m := v.(type) {
	case *jsonrpc.Request:
		msg.Method = m.Method
		msg.ID = m.ID.String()
		msg.Type = jsonrpc.TypeRequest
		if m.IsNotification() {
			msg.Type = jsonrpc.TypeNotification
		}
	case *jsonrpc.Response:
		msg.ID = m.ID.String()
		msg.Type = jsonrpc.TypeResponse
	}
	return logctx.WithRPCMessage(ctx, msg)
}

type idAllocator struct {
	last  int64
	clock func() int64
}

// next returns a strictly increasing id.
func (a *idAllocator) next() int64 {
	n := a.last + 1
	if a.clock != nil {
		if now := a.clock(); now > n {
			n = now
		}
	}
	a.last = n
	return n
}
