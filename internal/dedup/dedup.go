// Package dedup removes repeated elements from sequences while keeping
// first-occurrence order.
package dedup

// Remove returns a copy of in with duplicates and members of seen dropped,
// preserving first-occurrence order, together with the updated seen set.
// Neither input is mutated; the returned set is freshly allocated and a nil
// seen set is treated as empty.
func Remove[T comparable](in []T, seen map[T]struct{}) ([]T, map[T]struct{}) {
	next := make(map[T]struct{}, len(seen)+len(in))
	for v := range seen {
		next[v] = struct{}{}
	}
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := next[v]; ok {
			continue
		}
		next[v] = struct{}{}
		out = append(out, v)
	}
	return out, next
}

// Seen builds a seen set from values, convenient for seeding Remove.
func Seen[T comparable](values ...T) map[T]struct{} {
	set := make(map[T]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
