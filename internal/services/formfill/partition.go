package formfill

// Distribute splits items into n contiguous slices whose sizes differ by at most
// one. The first len(items)%n slices carry the extra item. n is clamped to
// [1, len(items)]; an empty input yields no slices.
func Distribute[T any](items []T, n int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	if n > len(items) {
		n = len(items)
	}

	base := len(items) / n
	remainder := len(items) % n

	slices := make([][]T, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < remainder {
			size++
		}
		slices = append(slices, items[start:start+size:start+size])
		start += size
	}
	return slices
}
