// Package extract pulls identifiers out of tool results so later calls can
// refer to entities created by earlier ones.
//
// Servers disagree on how they report new identifiers: some print prose such
// as "Session started. ID: 3f2a...", some return a JSON object as the text
// item, and newer ones fill structuredContent. Each convention is an
// Extractor; Default tries them all.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ggoodman/mcp-stdio-harness/internal/jsonrpc"
	"github.com/ggoodman/mcp-stdio-harness/mcp"
)

// DefaultPattern matches the "ID: <hex-and-dashes>" convention.
const DefaultPattern = `ID: ([0-9a-fA-F-]+)`

// Extractor finds the value for field in a tool result.
type Extractor interface {
	Extract(field string, result *mcp.CallToolResult) (string, bool)
}

// Func adapts a function to Extractor.
type Func func(field string, result *mcp.CallToolResult) (string, bool)

func (f Func) Extract(field string, result *mcp.CallToolResult) (string, bool) {
	return f(field, result)
}

type pattern struct {
	re *regexp.Regexp
}

// Pattern returns an Extractor applying re to the first text item. The first
// capture group is the value, or the whole match when re has no groups. The
// field name is ignored.
func Pattern(re *regexp.Regexp) Extractor {
	return pattern{re: re}
}

// MustPattern compiles expr and returns Pattern for it.
func MustPattern(expr string) Extractor {
	return Pattern(regexp.MustCompile(expr))
}

// Labeled matches "<label>: <hex-and-dashes>".
func Labeled(label string) Extractor {
	return Pattern(regexp.MustCompile(regexp.QuoteMeta(label) + `: ([0-9a-fA-F-]+)`))
}

func (p pattern) Extract(_ string, result *mcp.CallToolResult) (string, bool) {
	m := p.re.FindStringSubmatch(FirstText(result))
	switch {
	case m == nil:
		return "", false
	case len(m) > 1:
		return m[1], m[1] != ""
	default:
		return m[0], m[0] != ""
	}
}

// JSONField parses the first text item as a JSON object and reads field.
func JSONField() Extractor {
	return Func(func(field string, result *mcp.CallToolResult) (string, bool) {
		text := strings.TrimSpace(FirstText(result))
		if !strings.HasPrefix(text, "{") {
			return "", false
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return "", false
		}
		return scalar(obj[field])
	})
}

// Structured reads field from the result's structuredContent.
func Structured() Extractor {
	return Func(func(field string, result *mcp.CallToolResult) (string, bool) {
		if result == nil || result.StructuredContent == nil {
			return "", false
		}
		return scalar(result.StructuredContent[field])
	})
}

// Chain tries each extractor in order and returns the first hit.
func Chain(extractors ...Extractor) Extractor {
	return Func(func(field string, result *mcp.CallToolResult) (string, bool) {
		for _, e := range extractors {
			if v, ok := e.Extract(field, result); ok {
				return v, true
			}
		}
		return "", false
	})
}

// Default tries structuredContent, then a JSON text item, then the
// "ID: ..." pattern.
func Default() Extractor {
	return Chain(Structured(), JSONField(), MustPattern(DefaultPattern))
}

// UUID accepts only values from e that parse as UUIDs. The value is returned
// in canonical lower-case form.
func UUID(e Extractor) Extractor {
	return Func(func(field string, result *mcp.CallToolResult) (string, bool) {
		v, ok := e.Extract(field, result)
		if !ok {
			return "", false
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return "", false
		}
		return id.String(), true
	})
}

// ByName returns the extractor registered under name: "pattern", "json",
// "structured" or "" for Default.
func ByName(name string) (Extractor, error) {
	switch name {
	case "":
		return Default(), nil
	case "pattern":
		return MustPattern(DefaultPattern), nil
	case "json":
		return JSONField(), nil
	case "structured":
		return Structured(), nil
	case "uuid":
		return UUID(Default()), nil
	default:
		return nil, fmt.Errorf("extract: unknown extractor %q", name)
	}
}

// Result decodes the result of a tools/call response. It returns nil when
// the response carries no result.
func Result(resp *jsonrpc.Response) (*mcp.CallToolResult, error) {
	if resp == nil || len(resp.Result) == 0 {
		return nil, nil
	}
	var res mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		return nil, fmt.Errorf("extract: decode tool result: %w", err)
	}
	return &res, nil
}

// FirstText returns the text of the first content item, or "".
func FirstText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	return result.FirstText()
}

func scalar(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, v != ""
	case float64:
		return fmt.Sprintf("%v", v), true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}
