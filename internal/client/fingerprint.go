package client

import (
	"sort"
	"strings"
)

// Fingerprint builds the deterministic cache key for a request: the endpoint
// path plus parameters sorted by key. Two logically identical requests always
// produce the same key regardless of parameter insertion order.
func Fingerprint(endpoint Endpoint, params Params) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(endpoint))
	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
