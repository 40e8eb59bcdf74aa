package eav

import "eavetl/internal/etlerr"

// Chunk splits items into consecutive sub-slices of at most size elements,
// preserving order. The sub-slices share items' backing array.
//
// Errors:
//   - etlerr.InvalidArgument if size <= 0.
func Chunk[T any](items []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, etlerr.New(etlerr.InvalidArgument, "chunk: size must be >= 1, got %d", size)
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end:end])
	}
	return out, nil
}
