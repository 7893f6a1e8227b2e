package analysis

import (
	"math"
	"strings"
)

type Point struct{ X, Y float64 }

// PhasePortrait pairs xs with ys, skipping samples where either is NaN.
func PhasePortrait(xs, ys []float64) []Point {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	pts := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		pts = append(pts, Point{X: xs[i], Y: ys[i]})
	}
	return pts
}

// Bounds returns the padded bounding box of pts. Degenerate ranges widen to 1.
func Bounds(pts []Point) (minX, maxX, minY, maxY float64) {
	minX, maxX = pts[0].X, pts[0].X
	minY, maxY = pts[0].Y, pts[0].Y
	for _, p := range pts {
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	return minX - rangeX*0.1, maxX + rangeX*0.1, minY - rangeY*0.1, maxY + rangeY*0.1
}

// PhasePortraitToASCII draws pts on a width x height character grid with the
// axes where they cross the visible area.
func PhasePortraitToASCII(pts []Point, width, height int) string {
	if len(pts) == 0 || width < 2 || height < 2 {
		return ""
	}
	minX, maxX, minY, maxY := Bounds(pts)
	col := func(x float64) int { return int((x - minX) / (maxX - minX) * float64(width-1)) }
	row := func(y float64) int { return height - 1 - int((y-minY)/(maxY-minY)*float64(height-1)) }

	grid := make([][]rune, height)
	for r := range grid {
		grid[r] = []rune(strings.Repeat(" ", width))
	}
	mark := func(r, c int, ch rune, overwrite bool) {
		if r < 0 || r >= height || c < 0 || c >= width {
			return
		}
		if overwrite || grid[r][c] == ' ' {
			grid[r][c] = ch
		}
	}

	for _, p := range pts {
		mark(row(p.Y), col(p.X), '•', true)
	}
	if minX <= 0 && maxX >= 0 {
		for r := 0; r < height; r++ {
			mark(r, col(0), '│', false)
		}
	}
	if minY <= 0 && maxY >= 0 {
		for c := 0; c < width; c++ {
			mark(row(0), c, '─', false)
		}
	}

	var sb strings.Builder
	for _, r := range grid {
		sb.WriteString(string(r))
		sb.WriteByte('\n')
	}
	return sb.String()
}
