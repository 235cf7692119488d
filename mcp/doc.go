// Package mcp contains the client-side subset of Model Context Protocol data
// types and constants used by the stdio harness. It mirrors the wire
// representation (exported structs with json tags, string constants for
// method names) and carries no transport logic.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsCallMethod). Using the constants avoids typographical mistakes.
//
// # Handshake
//
// A session begins with InitializeRequest, answered by InitializeResult, and
// is confirmed by the client with the InitializedNotificationMethod
// notification. Only then may tools be called.
//
// # Tool Results
//
// CallToolResult.Content is a sequence of ContentBlock values. By convention
// the first text block is the human-readable summary; servers may embed
// identifiers in it as prose ("ID: <uuid>") or as a JSON document.
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "Created. ID: 5b1e..."}},
//	}
//	summary := res.FirstText()
//
// # Compatibility
//
// DefaultProtocolVersion is the date-formatted version tag the harness
// announces unless configured otherwise.
package mcp
