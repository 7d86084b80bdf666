package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/conceptmesh/backend/internal/prompts"
)

// Title-like keys are lowercased during normalization so trivially different
// casings share a cache entry. Body text is left untouched: lowercasing a
// whole document is not semantically safe.
var titleLikeKeys = map[string]bool{
	"title":         true,
	"documenttitle": true,
	"focusarea":     true,
	"relationship":  true,
}

// CacheKey derives the stable result-cache key for a call. Encoding is
// canonical JSON (sorted keys, no insignificant whitespace) hashed with
// SHA-256, so the key survives process restarts and runtime changes.
func CacheKey(pt prompts.PromptType, ctx prompts.Context, model string, version prompts.PromptVersion) string {
	var b strings.Builder
	b.WriteString(string(pt))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(model))
	b.WriteByte('|')
	b.WriteString(string(version))
	b.WriteByte('|')
	writeCanonical(&b, map[string]any(ctx), "")

	sum := sha256.Sum256([]byte(b.String()))
	return "airesult:" + hex.EncodeToString(sum[:])
}

func writeCanonical(b *strings.Builder, v any, key string) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			enc, _ := json.Marshal(k)
			b.Write(enc)
			b.WriteByte(':')
			writeCanonical(b, t[k], k)
		}
		b.WriteByte('}')
	case prompts.Context:
		writeCanonical(b, map[string]any(t), key)
	case []any:
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item, key)
		}
		b.WriteByte(']')
	case string:
		if titleLikeKeys[strings.ToLower(key)] {
			t = strings.ToLower(t)
		}
		enc, _ := json.Marshal(t)
		b.Write(enc)
	case nil:
		b.WriteString("null")
	default:
		enc, err := json.Marshal(t)
		if err != nil {
			fmt.Fprintf(b, "%q", fmt.Sprint(t))
			return
		}
		b.Write(enc)
	}
}
