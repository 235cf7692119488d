// Command mcpharness drives an MCP server over stdio and checks its tools.
//
//	mcpharness run [-scenario name|-file path] [-watch] [-var k=v ...] [-- cmd args...]
//	mcpharness call -tool NAME [-args JSON] [-- cmd args...]
//	mcpharness tools [-- cmd args...]
//	mcpharness list
//	mcpharness schema
//	mcpharness reports [-scenario name] [-run id] [-purge]
//
// Settings come from MCPHARNESS_* environment variables; flags override them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitFatal  = 2
)

// errUsage marks errors already explained by a FlagSet.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type command struct {
	name    string
	summary string
	fn      func(ctx context.Context, env *env, args []string) int
}

var commands = []command{
	{"run", "run a scenario against the server", cmdRun},
	{"call", "call a single tool and print the result", cmdCall},
	{"tools", "list the tools the server advertises", cmdTools},
	{"list", "list builtin scenarios", cmdList},
	{"schema", "print the JSON Schema of scenario files", cmdSchema},
	{"reports", "show stored run reports", cmdReports},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "-help" || args[0] == "help" {
		usage(stderr)
		if len(args) == 0 {
			return exitFatal
		}
		return exitOK
	}
	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		e, err := newEnv(stdout, stderr)
		if err != nil {
			fmt.Fprintf(stderr, "mcpharness: %v\n", err)
			return exitFatal
		}
		defer e.close()
		return c.fn(ctx, e, args[1:])
	}
	fmt.Fprintf(stderr, "mcpharness: unknown command %q\n\n", args[0])
	usage(stderr)
	return exitFatal
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: mcpharness <command> [flags] [-- server command...]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
}
