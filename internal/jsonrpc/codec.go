package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNonProtocolLine is returned by DecodeLine for output that is not an
// attempted JSON-RPC message, such as log text the peer prints on stdout.
// Callers should discard the line and keep reading.
var ErrNonProtocolLine = errors.New("jsonrpc: not a protocol message")

// DecodeError reports a line that looks like a JSON object but could not be
// decoded as a JSON-RPC 2.0 message.
type DecodeError struct {
	Line []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("jsonrpc: malformed message %q: %v", truncate(e.Line, 256), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeLine marshals v as a single line of compact JSON without the
// trailing newline.
func EncodeLine(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: encode: %w", err)
	}
	if bytes.ContainsAny(b, "\r\n") {
		return nil, fmt.Errorf("jsonrpc: encoded message contains a line break")
	}
	return b, nil
}

// DecodeLine classifies and decodes one line of peer output. Only lines whose
// first non-space byte is '{' are treated as protocol messages.
func DecodeLine(line []byte) (*AnyMessage, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNonProtocolLine
	}

	var msg AnyMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, &DecodeError{Line: append([]byte(nil), trimmed...), Err: err}
	}
	return &msg, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
