// Package dedupe keeps only the first occurrence of each world id when
// several result lists are merged.
package dedupe

// FirstWins keeps the first item for every non-empty key, preserving order.
// Items with an empty key are all kept. It returns the kept items and the
// number dropped.
func FirstWins[T any](items []T, key func(T) string) ([]T, int) {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		k := key(item)
		if k != "" {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		out = append(out, item)
	}
	return out, len(items) - len(out)
}
