package prompts

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// render substitutes {{path}} placeholders and resolves single-level
// {{#if path}}…{{/if}} conditionals. A small hand-written scanner is all the
// template language needs; nested conditionals are not supported.
func render(body string, ctx Context) string {
	return substitutePlaceholders(resolveConditionals(body, ctx), ctx)
}

func resolveConditionals(body string, ctx Context) string {
	var out strings.Builder
	for {
		start := strings.Index(body, "{{#if ")
		if start < 0 {
			out.WriteString(body)
			break
		}
		out.WriteString(body[:start])
		rest := body[start:]

		headEnd := strings.Index(rest, "}}")
		if headEnd < 0 {
			out.WriteString(rest)
			break
		}
		path := strings.TrimSpace(rest[len("{{#if "):headEnd])
		afterHead := rest[headEnd+2:]

		closeIdx := strings.Index(afterHead, "{{/if}}")
		if closeIdx < 0 {
			out.WriteString(rest)
			break
		}
		inner := afterHead[:closeIdx]
		if val, ok := lookupPath(ctx, path); ok && isTruthy(val) {
			out.WriteString(inner)
		}
		body = afterHead[closeIdx+len("{{/if}}"):]
	}
	return out.String()
}

func substitutePlaceholders(body string, ctx Context) string {
	var out strings.Builder
	for {
		start := strings.Index(body, "{{")
		if start < 0 {
			out.WriteString(body)
			break
		}
		end := strings.Index(body[start:], "}}")
		if end < 0 {
			out.WriteString(body)
			break
		}
		out.WriteString(body[:start])
		path := strings.TrimSpace(body[start+2 : start+end])
		val, ok := lookupPath(ctx, path)
		if ok {
			out.WriteString(formatValue(val))
		}
		body = body[start+end+2:]
	}
	return out.String()
}

// lookupPath dereferences a dot-notation path against the context.
func lookupPath(ctx Context, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = map[string]any(ctx)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			if c, isCtx := cur.(Context); isCtx {
				m = map[string]any(c)
			} else {
				return nil, false
			}
		}
		next, exists := m[part]
		if !exists {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case nil:
		return ""
	default:
		b, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return strings.TrimSpace(t) != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case float32:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
