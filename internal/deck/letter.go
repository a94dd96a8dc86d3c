package deck

// Column ranges: B 1-15, I 16-30, N 31-45, G 46-60, O 61-75.
const (
	ColumnCount = 5
	ColumnSpan  = 15
)

var letters = [ColumnCount]string{"B", "I", "N", "G", "O"}

// Column returns the 0-based column a ball belongs to, or -1 when out of range.
func Column(n int) int {
	if n < 1 || n > Size {
		return -1
	}
	return (n - 1) / ColumnSpan
}

// Letter returns the BINGO letter for ball n.
func Letter(n int) string {
	c := Column(n)
	if c < 0 {
		return ""
	}
	return letters[c]
}

// ColumnRange returns the inclusive ball range of column c.
func ColumnRange(c int) (lo, hi int) {
	lo = c*ColumnSpan + 1
	return lo, lo + ColumnSpan - 1
}
