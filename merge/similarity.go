package merge

// similarity.go implements the fuzzy string matching used by the
// identity cascades. Ratio follows the classic sequence-matcher
// definition: find the longest common block, recurse on the pieces
// to the left and right of it, and report 2*M/T where M is the total
// matched length and T the combined input length. Inputs are compared
// in normalized form (see entity.NormalizeKey), so case, whitespace
// and umlaut spelling differences do not count against a match.

// Ratio returns a similarity measure in [0, 1] for two strings.
// Equal strings score 1, strings with no common characters score 0.
func Ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	matched := matchLen(ra, rb)
	return 2 * float64(matched) / float64(total)
}

// matchLen sums the longest matching block between a and b plus the
// recursive matches in the unmatched regions on either side.
func matchLen(a, b []rune) int {
	ai, bi, n := longestMatch(a, b)
	if n == 0 {
		return 0
	}
	return n + matchLen(a[:ai], b[:bi]) + matchLen(a[ai+n:], b[bi+n:])
}

// longestMatch locates the longest common substring of a and b,
// preferring the earliest occurrence in a and then in b on ties.
func longestMatch(a, b []rune) (ai, bi, size int) {
	// lengths[j] holds the length of the common suffix ending at
	// a[i-1], b[j]; rebuilt row by row.
	lengths := make(map[int]int)
	for i := range a {
		next := make(map[int]int, len(lengths))
		for j := range b {
			if a[i] != b[j] {
				continue
			}
			k := lengths[j-1] + 1
			next[j] = k
			if k > size {
				ai, bi, size = i-k+1, j-k+1, k
			}
		}
		lengths = next
	}
	return ai, bi, size
}
