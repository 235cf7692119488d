package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ggoodman/mcp-stdio-harness/client"
	"github.com/ggoodman/mcp-stdio-harness/internal/config"
	"github.com/ggoodman/mcp-stdio-harness/internal/logctx"
	"github.com/ggoodman/mcp-stdio-harness/mcp"
	"github.com/ggoodman/mcp-stdio-harness/scenario"
	"github.com/ggoodman/mcp-stdio-harness/stdio"
	"github.com/ggoodman/mcp-stdio-harness/storage"
	"github.com/ggoodman/mcp-stdio-harness/storage/memory"
	"github.com/ggoodman/mcp-stdio-harness/storage/redis"
)

var errNoStore = errors.New("no report store configured (set MCPHARNESS_STORE=memory or redis)")

// env is the state shared by every subcommand.
type env struct {
	cfg    *config.Config
	l      *slog.Logger
	stdout io.Writer
	stderr io.Writer

	store storage.Storage
}

func newEnv(stdout, stderr io.Writer) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level, _ := cfg.Level()
	l := logctx.NewLogger(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	return &env{cfg: cfg, l: l, stdout: stdout, stderr: stderr}, nil
}

func (e *env) close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.l.Warn("closing report store", slog.String("error", err.Error()))
		}
	}
}

// serverFlags registers the flags shared by commands that talk to a server.
func (e *env) serverFlags(fs *flag.FlagSet) {
	fs.DurationVar(&e.cfg.CallTimeout, "timeout", e.cfg.CallTimeout, "per-request timeout")
	fs.DurationVar(&e.cfg.InitTimeout, "init-timeout", e.cfg.InitTimeout, "initialize handshake timeout")
	fs.BoolVar(&e.cfg.ServerStderr, "stderr", e.cfg.ServerStderr, "pass the server's stderr through")
}

// parse parses args. A non-nil error means the command should stop; the
// FlagSet has already explained why.
func (e *env) parse(fs *flag.FlagSet, args []string) error {
	fs.SetOutput(e.stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errUsage
	}
	return nil
}

// serverCommand picks the command to spawn: trailing CLI args first, then
// the scenario's own server block, then configuration.
func (e *env) serverCommand(cli []string, sc *scenario.Scenario) (string, []string, []string) {
	switch {
	case len(cli) > 0:
		return cli[0], cli[1:], nil
	case sc != nil && sc.Server != nil:
		return sc.Server.Path, sc.Server.Args, sc.Server.Env
	default:
		return e.cfg.ServerCmd, e.cfg.Args(), nil
	}
}

// connect spawns the server and completes the handshake.
func (e *env) connect(ctx context.Context, cli []string, sc *scenario.Scenario) (*client.Client, error) {
	cmd, args, extraEnv := e.serverCommand(cli, sc)

	var procOpts []stdio.Option
	if len(extraEnv) > 0 {
		procOpts = append(procOpts, stdio.WithEnv(extraEnv...))
	}
	if e.cfg.ServerStderr {
		procOpts = append(procOpts, stdio.WithStderr(e.stderr))
	}

	c := client.New(cmd, args,
		client.WithLogger(e.l),
		client.WithProtocolVersion(e.cfg.ProtocolVersion),
		client.WithClientInfo(mcp.ImplementationInfo{Name: e.cfg.ClientName, Version: e.cfg.ClientVersion}),
		client.WithCallTimeout(e.cfg.CallTimeout),
		client.WithInitTimeout(e.cfg.InitTimeout),
		client.WithProcessOptions(procOpts...),
	)
	e.l.DebugContext(ctx, "starting server", slog.String("command", cmd), slog.String("args", strings.Join(args, " ")))
	if _, err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// recorder opens the configured report store. It returns nil when reports
// are not kept.
func (e *env) recorder() (*scenario.Recorder, error) {
	if e.store == nil {
		switch e.cfg.Store {
		case config.StoreNone:
			return nil, nil
		case config.StoreMemory:
			s, err := memory.New(e.cfg.MemorySize)
			if err != nil {
				return nil, err
			}
			e.store = s
		case config.StoreRedis:
			s, err := redis.New(redis.Config{
				Client:    goredis.NewClient(&goredis.Options{Addr: e.cfg.RedisAddr}),
				KeyPrefix: e.cfg.KeyPrefix,
			})
			if err != nil {
				return nil, err
			}
			e.store = s
		default:
			return nil, fmt.Errorf("unknown store %q", e.cfg.Store)
		}
	}
	return scenario.NewRecorder(e.store, e.cfg.ReportTTL), nil
}
