package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestDecodeLine_NonProtocol(t *testing.T) {
	t.Parallel()

	for _, line := range []string{
		"",
		"   ",
		"log: starting",
		"[info] listening on stdio",
		"12:00:01.123 [debug] Repo started",
		`["not", "an", "object"]`,
	} {
		_, err := DecodeLine([]byte(line))
		if !errors.Is(err, ErrNonProtocolLine) {
			t.Fatalf("DecodeLine(%q) error = %v, want ErrNonProtocolLine", line, err)
		}
	}
}

func TestDecodeLine_MalformedObjectIsFatal(t *testing.T) {
	t.Parallel()

	for _, line := range []string{
		`{"jsonrpc":"2.0","id":1,"result":`,
		`{not json}`,
		`{"jsonrpc":"1.0","id":1,"result":{}}`,
		`{"jsonrpc":"2.0","id":1}`,
		`{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`,
	} {
		_, err := DecodeLine([]byte(line))
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("DecodeLine(%q) error = %v, want *DecodeError", line, err)
		}
		if string(de.Line) != line {
			t.Fatalf("DecodeError.Line = %q, want %q", de.Line, line)
		}
	}
}

func TestDecodeLine_LogLineBeforeResponse(t *testing.T) {
	t.Parallel()

	out := "log: starting\n{\"jsonrpc\":\"2.0\",\"id\":7,\"result\":{}}\n"
	var got *Response
	for _, line := range bytes.Split([]byte(out), []byte("\n")) {
		msg, err := DecodeLine(line)
		if errors.Is(err, ErrNonProtocolLine) {
			continue
		}
		if err != nil {
			t.Fatalf("DecodeLine(%q): %v", line, err)
		}
		if msg.Type() != TypeResponse {
			t.Fatalf("expected response, got %s", msg.Type())
		}
		got = msg.AsResponse()
		break
	}
	if got == nil {
		t.Fatal("no response decoded")
	}
	if !got.ID.Equal(IntID(7)) {
		t.Fatalf("response id = %s, want 7", got.ID)
	}
	if string(got.Result) != "{}" {
		t.Fatalf("result = %s, want {}", got.Result)
	}
}

func TestDecodeLine_TrailingCarriageReturn(t *testing.T) {
	t.Parallel()

	msg, err := DecodeLine([]byte("{\"jsonrpc\":\"2.0\",\"method\":\"notifications/initialized\"}\r"))
	if err != nil {
		t.Fatalf("DecodeLine: %v", err)
	}
	if msg.Type() != TypeNotification {
		t.Fatalf("type = %s, want notification", msg.Type())
	}
}

func TestEncodeLine_Notification(t *testing.T) {
	t.Parallel()

	n, err := NewNotification("notifications/initialized", nil)
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}
	b, err := EncodeLine(n)
	if err != nil {
		t.Fatalf("EncodeLine: %v", err)
	}
	want := `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	if string(b) != want {
		t.Fatalf("EncodeLine = %s, want %s", b, want)
	}
}

func TestEncodeLine_CompactsRawParams(t *testing.T) {
	t.Parallel()

	req, err := NewRequest(IntID(3), "tools/call", json.RawMessage("{\n  \"name\": \"x\"\n}"))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	b, err := EncodeLine(req)
	if err != nil {
		t.Fatalf("EncodeLine: %v", err)
	}
	if bytes.ContainsAny(b, "\n") {
		t.Fatalf("encoded line contains newline: %q", b)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	req, err := NewRequest(IntID(42), "tools/call", map[string]any{
		"name":      "create_context",
		"arguments": map[string]any{"name": "T", "description": "d\nmultiline"},
	})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	b, err := EncodeLine(req)
	if err != nil {
		t.Fatalf("EncodeLine: %v", err)
	}
	msg, err := DecodeLine(b)
	if err != nil {
		t.Fatalf("DecodeLine: %v", err)
	}
	got := msg.AsRequest()
	if got == nil {
		t.Fatal("decoded message is not a request")
	}
	if got.Method != req.Method || !got.ID.Equal(req.ID) {
		t.Fatalf("decoded %s/%s, want %s/%s", got.Method, got.ID, req.Method, req.ID)
	}
	assertSameJSON(t, got.Params, req.Params)
}

func TestEncodeDecode_RoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("request survives encode/decode", prop.ForAll(
		func(id int64, method string, key string, value string) bool {
			if method == "" {
				method = "tools/call"
			}
			req, err := NewRequest(IntID(id), method, map[string]any{key: value})
			if err != nil {
				return false
			}
			b, err := EncodeLine(req)
			if err != nil {
				return false
			}
			msg, err := DecodeLine(b)
			if err != nil {
				return false
			}
			got := msg.AsRequest()
			if got == nil || got.Method != method || !got.ID.Equal(req.ID) {
				return false
			}
			var a, c any
			if json.Unmarshal(got.Params, &a) != nil || json.Unmarshal(req.Params, &c) != nil {
				return false
			}
			return reflect.DeepEqual(a, c)
		},
		gen.Int64(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func assertSameJSON(t *testing.T, got, want json.RawMessage) {
	t.Helper()
	var a, b any
	if err := json.Unmarshal(got, &a); err != nil {
		t.Fatalf("unmarshal got: %v", err)
	}
	if err := json.Unmarshal(want, &b); err != nil {
		t.Fatalf("unmarshal want: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("JSON mismatch:\n got: %s\nwant: %s", got, want)
	}
}
