// Package stdio implements the line transport the harness uses to talk to an
// MCP server running as a child process. The server's stdin and stdout carry
// newline-delimited text; stderr is discarded or forwarded to a caller
// supplied writer.
//
// Characteristics
//
//	Connection model : 1 harness <-> 1 child process
//	Framing          : one line per message, '\n' terminated
//	Buffering        : writes go straight to the pipe, no flush step
//	Shutdown         : stdin closed, SIGTERM, bounded grace period, then kill
//
// A Process is not a protocol endpoint: it moves lines. Classifying lines as
// protocol messages or diagnostic noise is the job of the codec layer.
//
// Example:
//
//	p := stdio.NewProcess("./diwa.sh", []string{"start"}, stdio.WithLogger(logger))
//	if err := p.Start(ctx); err != nil { return err }
//	defer p.Close()
//	_ = p.SendLine(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
//	line, err := p.ReadLine(ctx) // io.EOF once the child has exited
package stdio
