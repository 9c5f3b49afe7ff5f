// Package compositor combines several renderer instances into one frame,
// either as a grid of tiles sharing a surface or as a stack of blended
// layers.
package compositor

import (
	"math"

	"github.com/richinsley/shadervj/renderer"
)

// Layout is a grid of Rows x Cols cells separated by Gap pixels.
type Layout struct {
	Rows int `json:"rows" toml:"rows"`
	Cols int `json:"cols" toml:"cols"`
	Gap  int `json:"gaps" toml:"gap"`
}

// Cells is the number of cells in the grid.
func (l Layout) Cells() int {
	if l.Rows <= 0 || l.Cols <= 0 {
		return 0
	}
	return l.Rows * l.Cols
}

// Rects places the grid inside bounds.
func (l Layout) Rects(bounds renderer.Rect) []renderer.Rect {
	cells := CellRects(bounds.W, bounds.H, l.Rows, l.Cols, l.Gap)
	for i := range cells {
		cells[i].X += bounds.X
		cells[i].Y += bounds.Y
	}
	return cells
}

// CellRects splits a width x height canvas into rows x cols cells in row
// major order. Row 0 is the top row; rectangles use a bottom-left origin,
// so it gets the largest Y. Pixels left over by the integer division stay
// on the right and top edges.
func CellRects(width, height, rows, cols, gap int) []renderer.Rect {
	if rows <= 0 || cols <= 0 {
		return nil
	}
	cw := max(0, (width-gap*(cols-1))/cols)
	ch := max(0, (height-gap*(rows-1))/rows)
	cells := make([]renderer.Rect, 0, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			cells = append(cells, renderer.Rect{
				X: col * (cw + gap),
				Y: (rows - 1 - row) * (ch + gap),
				W: cw,
				H: ch,
			})
		}
	}
	return cells
}

// AspectFit returns the largest rectangle of the given width/height ratio
// centred in a width x height canvas. A ratio <= 0 returns the whole canvas.
func AspectFit(width, height int, aspect float64) renderer.Rect {
	full := renderer.Rect{W: width, H: height}
	if aspect <= 0 || width <= 0 || height <= 0 {
		return full
	}
	if float64(width)/float64(height) > aspect {
		w := min(width, int(math.Round(float64(height)*aspect)))
		return renderer.Rect{X: (width - w) / 2, W: w, H: height}
	}
	h := min(height, int(math.Round(float64(width)/aspect)))
	return renderer.Rect{Y: (height - h) / 2, W: width, H: h}
}
