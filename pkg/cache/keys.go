package cache

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ResultKey builds the cache key of a KPI result so that equivalent parameter
// sets produce the same key regardless of map order.
func ResultKey(kpi, strategy string, params map[string]int) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := []string{"result", canonical(kpi), canonical(strategy)}
	for _, k := range names {
		parts = append(parts, canonical(k)+"="+strconv.Itoa(params[k]))
	}
	return makeKey(parts...)
}

func canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func makeKey(parts ...string) string {
	joined := strings.Join(parts, "|")
	return strconv.FormatUint(xxhash.Sum64String(joined), 16)
}
