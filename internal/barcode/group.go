package barcode

// Group partitions pages 1..pageCount into ordered runs separated by the
// pages in separators. Separator pages are dropped and empty runs (leading,
// trailing or adjacent separators) are omitted.
func Group(pageCount int, separators map[int]bool) [][]int {
	var groups [][]int
	var current []int
	for p := 1; p <= pageCount; p++ {
		if separators[p] {
			if len(current) > 0 {
				groups = append(groups, current)
				current = nil
			}
			continue
		}
		current = append(current, p)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
