// Package client implements a synchronous MCP client that drives a server
// child process over line-delimited JSON-RPC on its stdin/stdout.
//
// A Client moves through four states:
//
//	Unstarted --Start--> Handshaking --initialize ok--> Ready --Close--> Closed
//
// Start spawns the process, sends initialize, waits for the correlated
// response and then sends notifications/initialized. Only a Ready client
// accepts calls. Every call allocates a fresh request id and reads lines
// until a response with that id arrives. Lines that are not JSON objects are
// treated as server log output and skipped; responses carrying any other id
// are discarded as stale. Close terminates the process and may be called any
// number of times.
//
// Example:
//
//	c := client.New("./diwa.sh", []string{"start"}, client.WithCallTimeout(30*time.Second))
//	if _, err := c.Start(ctx); err != nil { return err }
//	defer c.Close()
//	resp, err := c.CallTool(ctx, "list_contexts", map[string]any{})
//	if err != nil { return err } // transport failure or timeout
//	if resp.Error != nil { ... }  // tool-level failure
package client
