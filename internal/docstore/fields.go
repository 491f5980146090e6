package docstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EncodeDocument renders v as a JSON object, resolving ServerTimestamp
// values found in map documents.
func EncodeDocument(v any, now time.Time) ([]byte, error) {
	if m, ok := v.(map[string]any); ok {
		doc := make(map[string]any, len(m))
		for k, val := range m {
			doc[k] = resolveValue(val, now)
		}
		v = doc
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("encode document: not an object")
	}
	return data, nil
}

// ApplyFields merges fields into the stored document data and returns the
// new encoding. Dotted names address nested objects.
func ApplyFields(data []byte, fields map[string]any, now time.Time) ([]byte, error) {
	doc := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
	}
	for name, val := range fields {
		if !fieldPattern.MatchString(name) {
			return nil, ErrInvalidField
		}
		parent, leaf := walk(doc, name)
		switch t := val.(type) {
		case Increment:
			cur, _ := parent[leaf].(float64)
			parent[leaf] = cur + float64(t.N)
		default:
			parent[leaf] = resolveValue(val, now)
		}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return out, nil
}

func walk(doc map[string]any, name string) (map[string]any, string) {
	parts := strings.Split(name, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	return cur, parts[len(parts)-1]
}

func resolveValue(v any, now time.Time) any {
	if IsServerTimestamp(v) {
		return now.UnixMilli()
	}
	return v
}
