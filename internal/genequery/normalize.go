package genequery

import (
	"sort"
	"strings"
)

// NormalizeQuery returns a deterministic "k=v&k=v" fingerprint of params,
// sorted by key then value, used as the admission controller's hot-cache and
// coalescing key. The sort makes it idempotent and order-independent.
func NormalizeQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] != keys[j] {
			return keys[i] < keys[j]
		}
		return params[keys[i]] < params[keys[j]]
	})

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	return sb.String()
}
