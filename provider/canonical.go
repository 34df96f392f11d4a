package provider

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize flattens a nested document into the plaintext the providers
// sign. Prefix fields come first (method name, correlation uuid or URL
// path), then every key at the current level in ascending lexicographic
// order followed by its value; nested documents and arrays recurse
// depth-first. Nothing separates the fields: the providers' verifiers hash
// the exact adjacency.
func Canonicalize(prefix []string, doc map[string]any) string {
	var b strings.Builder
	for _, p := range prefix {
		b.WriteString(p)
	}
	canonicalizeMap(&b, doc)
	return b.String()
}

func canonicalizeMap(b *strings.Builder, doc map[string]any) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b.WriteString(k)
		canonicalizeValue(b, doc[k])
	}
}

func canonicalizeValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		canonicalizeMap(b, val)
	case []any:
		for _, item := range val {
			if m, ok := item.(map[string]any); ok {
				canonicalizeMap(b, m)
			} else {
				canonicalizeValue(b, item)
			}
		}
	case nil:
		// absent values contribute only their key
	case string:
		b.WriteString(val)
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case float64:
		// json.Unmarshal delivers numbers as float64; render integers
		// without a fractional part to match the providers' serializers
		b.WriteString(strconv.FormatFloat(val, 'f', -1, 64))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	default:
		fmt.Fprintf(b, "%v", val)
	}
}
