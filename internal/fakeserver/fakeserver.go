// Package fakeserver is a small scripted MCP server speaking line-delimited
// JSON-RPC. Tests run it in-process over pipes or re-exec the test binary to
// host it as a real child process.
//
// It mimics the context-memory server the harness was written against:
// contexts, requirements and sessions are kept in memory, identifiers are
// UUIDs, and results follow the "first text item is the summary" convention.
// It also prints log lines on stdout, as real servers built on chatty
// runtimes do.
package fakeserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ggoodman/mcp-stdio-harness/internal/jsonrpc"
	"github.com/ggoodman/mcp-stdio-harness/mcp"
)

// Name is the serverInfo.name reported by the fake server.
const Name = "fake-diwa"

// Options tweak the fake server's behaviour for specific tests.
type Options struct {
	// Noise prints a log line before every response.
	Noise bool
	// DropToolCalls suppresses responses to the named tools.
	DropToolCalls map[string]bool
	// StaleReplies sends a response with the previous request's id before
	// every tools/call response.
	StaleReplies bool
	// PageSize splits tools/list into pages when > 0.
	PageSize int
	// ExitOn makes the server exit without answering the named tool.
	ExitOn string
	// GarbleOn makes the server answer the named tool with malformed JSON.
	GarbleOn string
}

type server struct {
	opts Options
	w    *bufio.Writer

	mu           sync.Mutex
	initialized  bool
	contexts     map[string]map[string]any
	requirements map[string]string
	sessions     map[string]bool
	status       string
	lastID       *jsonrpc.RequestID
}

// Serve reads requests from r and writes responses to w until r is
// exhausted or an ExitOn tool is called.
func Serve(r io.Reader, w io.Writer, opts Options) error {
	s := &server{
		opts:         opts,
		w:            bufio.NewWriter(w),
		contexts:     map[string]map[string]any{},
		requirements: map[string]string{},
		sessions:     map[string]bool{},
	}
	s.log("[info] fake server starting")

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		msg, err := jsonrpc.DecodeLine(sc.Bytes())
		if err != nil {
			s.log("[warn] dropping input: " + err.Error())
			continue
		}
		req := msg.AsRequest()
		if req == nil {
			continue
		}
		if exit := s.handle(req); exit {
			return s.w.Flush()
		}
	}
	return sc.Err()
}

func (s *server) handle(req *jsonrpc.Request) (exit bool) {
	switch req.Method {
	case string(mcp.InitializeMethod):
		var p mcp.InitializeRequest
		_ = json.Unmarshal(req.Params, &p)
		s.reply(req.ID, mcp.InitializeResult{
			ProtocolVersion: p.ProtocolVersion,
			ServerInfo:      mcp.ImplementationInfo{Name: Name, Version: "0.1.0"},
		})
	case string(mcp.InitializedNotificationMethod):
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		s.log("[info] client initialized")
	case string(mcp.CancelledNotificationMethod):
		var p mcp.CancelledNotification
		_ = json.Unmarshal(req.Params, &p)
		s.log(fmt.Sprintf("[info] client cancelled request %v (%s)", p.RequestID, p.Reason))
	case string(mcp.PingMethod):
		s.reply(req.ID, mcp.EmptyResult{})
	case string(mcp.ToolsListMethod):
		s.listTools(req)
	case string(mcp.ToolsCallMethod):
		return s.callTool(req)
	default:
		if !req.IsNotification() {
			s.write(jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found", req.Method))
		}
	}
	return false
}

var toolNames = []string{
	"add_memory", "add_requirement", "classify_memory", "create_context",
	"delete_context", "end_session", "get_project_status", "hydrate_context",
	"ingest_context", "list_contexts", "log_session_activity",
	"mark_requirement_complete", "prune_expired_memories", "search_memories",
	"set_project_status", "start_session", "validate_action",
}

func (s *server) listTools(req *jsonrpc.Request) {
	var p mcp.ListToolsRequest
	_ = json.Unmarshal(req.Params, &p)

	tools := make([]mcp.Tool, 0, len(toolNames))
	for _, n := range toolNames {
		tools = append(tools, mcp.Tool{Name: n, Description: "fake " + n, InputSchema: map[string]any{"type": "object"}})
	}
	start := 0
	if p.Cursor != "" {
		fmt.Sscanf(p.Cursor, "%d", &start)
	}
	res := mcp.ListToolsResult{}
	if s.opts.PageSize > 0 && start+s.opts.PageSize < len(tools) {
		res.Tools = tools[start : start+s.opts.PageSize]
		res.NextCursor = fmt.Sprintf("%d", start+s.opts.PageSize)
	} else if start < len(tools) {
		res.Tools = tools[start:]
	}
	s.reply(req.ID, res)
}

func (s *server) callTool(req *jsonrpc.Request) (exit bool) {
	var p struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.write(jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tool call params", err.Error()))
		return false
	}

	s.mu.Lock()
	ready := s.initialized
	prev := s.lastID
	s.lastID = req.ID
	s.mu.Unlock()
	if !ready {
		s.write(jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "tools/call before initialized", nil))
		return false
	}

	switch {
	case s.opts.ExitOn != "" && p.Name == s.opts.ExitOn:
		s.log("[info] shutting down")
		return true
	case s.opts.GarbleOn != "" && p.Name == s.opts.GarbleOn:
		_, _ = s.w.WriteString(`{"jsonrpc":"2.0","id":` + req.ID.String() + `,"result":` + "\n")
		_ = s.w.Flush()
		return false
	case s.opts.DropToolCalls[p.Name]:
		s.log("[debug] dropping " + p.Name)
		return false
	}

	if s.opts.StaleReplies && prev != nil {
		s.replyText(prev, "stale reply")
	}

	text, rpcErr := s.runTool(p.Name, p.Arguments)
	if rpcErr != nil {
		s.write(&jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, ID: req.ID, Error: rpcErr})
		return false
	}
	s.replyText(req.ID, text)
	return false
}

func (s *server) runTool(name string, args map[string]any) (string, *jsonrpc.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	str := func(k string) string { v, _ := args[k].(string); return v }

	switch name {
	case "create_context":
		if str("name") == "" {
			return "", &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "name is required"}
		}
		id := uuid.NewString()
		s.contexts[id] = map[string]any{"name": str("name"), "description": str("description"), "memories": 0}
		b, _ := json.Marshal(map[string]any{"context_id": id, "name": str("name")})
		return string(b), nil
	case "list_contexts":
		if len(s.contexts) == 0 {
			return "No contexts found.", nil
		}
		ids := make([]string, 0, len(s.contexts))
		for id := range s.contexts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		var b strings.Builder
		for _, id := range ids {
			fmt.Fprintf(&b, "- %s (ID: %s)\n", s.contexts[id]["name"], id)
		}
		return b.String(), nil
	case "delete_context":
		if _, ok := s.contexts[str("context_id")]; !ok {
			return "", &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "context not found"}
		}
		delete(s.contexts, str("context_id"))
		return "Context deleted.", nil
	case "add_memory":
		c, ok := s.contexts[str("context_id")]
		if !ok {
			return "", &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "context not found"}
		}
		c["memories"] = c["memories"].(int) + 1
		return "Memory added. ID: " + uuid.NewString(), nil
	case "search_memories":
		return fmt.Sprintf("Found 0 memories for %q", str("query")), nil
	case "add_requirement":
		id := uuid.NewString()
		s.requirements[id] = str("title")
		return fmt.Sprintf("Requirement '%s' added. ID: %s", str("title"), id), nil
	case "mark_requirement_complete":
		if _, ok := s.requirements[str("requirement_id")]; !ok {
			return "", &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "requirement not found"}
		}
		return "Requirement marked complete.", nil
	case "start_session":
		id := uuid.NewString()
		s.sessions[id] = true
		return "Session started. ID: " + id, nil
	case "log_session_activity":
		if !s.sessions[str("session_id")] {
			return "", &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "session not found"}
		}
		return "Activity logged.", nil
	case "end_session":
		if !s.sessions[str("session_id")] {
			return "", &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "session not found"}
		}
		delete(s.sessions, str("session_id"))
		return "Session ended.", nil
	case "set_project_status":
		s.status = fmt.Sprintf("%s (%v%%)", str("status"), args["completion_pct"])
		return "Project status updated.", nil
	case "get_project_status":
		if s.status == "" {
			return "No status recorded.", nil
		}
		return "Status: " + s.status, nil
	case "classify_memory":
		return "Classified as: decision", nil
	case "validate_action":
		return "Validation passed with 0 warnings.", nil
	case "hydrate_context":
		return fmt.Sprintf("Hydrated context %s (%s).", str("context_id"), str("depth")), nil
	case "ingest_context":
		return "Ingested 0 files.", nil
	case "prune_expired_memories":
		return "Pruned 0 memories.", nil
	default:
		return "", &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "unknown tool", Data: name}
	}
}

func (s *server) replyText(id *jsonrpc.RequestID, text string) {
	s.reply(id, mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: text}}})
}

func (s *server) reply(id *jsonrpc.RequestID, result any) {
	resp, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		s.write(jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, err.Error(), nil))
		return
	}
	s.write(resp)
}

func (s *server) write(resp *jsonrpc.Response) {
	if s.opts.Noise {
		s.log(fmt.Sprintf("[debug] replying to %s", resp.ID))
	}
	line, err := jsonrpc.EncodeLine(resp)
	if err != nil {
		s.log("[error] encode: " + err.Error())
		return
	}
	_, _ = s.w.Write(append(line, '\n'))
	_ = s.w.Flush()
}

func (s *server) log(msg string) {
	if !s.opts.Noise {
		return
	}
	_, _ = s.w.WriteString(msg + "\n")
	_ = s.w.Flush()
}
