package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// NormalizeKey canonicalizes a stage's cache key inputs — trimmed and
// lowercased text, JSON-canonical structured config — then hashes
// (stageName, normalized inputs, configDigest, clientIdentity) into one
// cache key, per spec.md §4.1's "Key normalization" contract.
func NormalizeKey(stageName string, inputs map[string]any, config map[string]any, clientIdentity string) string {
	h := sha256.New()
	fmt.Fprintf(h, "stage=%s\n", stageName)
	fmt.Fprintf(h, "client=%s\n", clientIdentity)
	fmt.Fprintf(h, "inputs=%s\n", canonicalize(inputs))
	fmt.Fprintf(h, "config=%s\n", canonicalize(config))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalize produces a stable string for a structured value: string
// leaves are trimmed and lowercased, map keys are sorted, and the whole
// thing is rendered through encoding/json for a deterministic byte form.
func canonicalize(v map[string]any) string {
	if len(v) == 0 {
		return "{}"
	}
	normalized := normalizeValue(v)
	out, err := json.Marshal(normalized)
	if err != nil {
		// Structured inputs must be JSON-marshalable by construction;
		// fall back to a stable but less precise representation.
		return fmt.Sprintf("%v", normalized)
	}
	return string(out)
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(val))
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[k] = normalizeValue(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return val
	}
}
