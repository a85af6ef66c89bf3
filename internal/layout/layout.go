// Package layout picks the grid shape for the stream wall.
package layout

import "math"

const (
	targetAspect    = 16.0 / 9.0
	emptyCellWeight = 0.08

	minViewportWidth  = 320
	minViewportHeight = 240

	wideBreakpoint = 1000
	wideGap        = 4
	narrowGap      = 3
)

// Grid is a (cols, rows) partition of the viewport.
type Grid struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Plan is a grid plus the column span of every card, in card order.
type Plan struct {
	Grid
	Spans []int `json:"spans"`
}

// Compute returns the grid shape for n streams in a width x height viewport.
// Each candidate column count is scored by how far its cells are from 16:9 plus a
// penalty per empty cell; the lowest score wins and ties keep the fewer columns.
func Compute(n int, width, height float64) Grid {
	total := max(1, n)
	w := math.Max(width, minViewportWidth)
	h := math.Max(height, minViewportHeight)
	gap := float64(narrowGap)
	if w >= wideBreakpoint {
		gap = wideGap
	}

	var (
		best      Grid
		bestScore float64
		found     bool
	)
	for cols := 1; cols <= total; cols++ {
		rows := ceilDiv(total, cols)
		cellW := (w - float64(cols-1)*gap) / float64(cols)
		cellH := (h - float64(rows-1)*gap) / float64(rows)
		if cellW <= 0 || cellH <= 0 {
			continue
		}

		score := math.Abs(math.Log((cellW/cellH)/targetAspect)) +
			float64(cols*rows-total)*emptyCellWeight
		if !found || score < bestScore {
			best = Grid{Cols: cols, Rows: rows}
			bestScore = score
			found = true
		}
	}

	if !found {
		cols := int(math.Ceil(math.Sqrt(float64(total))))
		return Grid{Cols: cols, Rows: ceilDiv(total, cols)}
	}
	return best
}

// Stretch returns the column span of each of n cards laid out in cols columns.
// Cards in the trailing partial row share all cols between them, left-most first
// when the split is uneven; every other card spans one column.
func Stretch(n, cols int) []int {
	if n <= 0 {
		return nil
	}
	spans := make([]int, n)
	for i := range spans {
		spans[i] = 1
	}
	if cols <= 1 {
		return spans
	}
	remainder := n % cols
	if remainder == 0 {
		return spans
	}

	start := n - remainder
	base := cols / remainder
	extras := cols - base*remainder
	for i := 0; i < remainder; i++ {
		span := base
		if extras > 0 {
			span++
			extras--
		}
		spans[start+i] = span
	}
	return spans
}

// Solve combines Compute and Stretch.
func Solve(n int, width, height float64) Plan {
	g := Compute(n, width, height)
	return Plan{Grid: g, Spans: Stretch(n, g.Cols)}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
