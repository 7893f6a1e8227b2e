package tui

import (
	"math"
	"strings"

	"github.com/golang/geo/r3"

	"github.com/san-kum/armsim/internal/kinematics"
)

// Braille cells hold 2x4 dots:
// 1 4
// 2 5
// 3 6
// 7 8
var pixelMap = [4][2]rune{
	{0x1, 0x8},
	{0x2, 0x10},
	{0x4, 0x20},
	{0x40, 0x80},
}

const blank = 0x2800

// Canvas is a braille dot canvas of Width x Height cells, each cell 2x4 dots.
type Canvas struct {
	Width, Height int
	Grid          [][]rune
}

func NewCanvas(w, h int) *Canvas {
	c := &Canvas{Width: w, Height: h, Grid: make([][]rune, h)}
	for i := range c.Grid {
		c.Grid[i] = make([]rune, w)
	}
	c.Clear()
	return c
}

// Set lights the dot at (x, y) in dot coordinates.
func (c *Canvas) Set(x, y int) {
	if x < 0 || y < 0 {
		return
	}
	col, row := x/2, y/4
	if col >= c.Width || row >= c.Height {
		return
	}
	c.Grid[row][col] |= pixelMap[y%4][x%2]
}

func (c *Canvas) Clear() {
	for i := range c.Grid {
		for j := range c.Grid[i] {
			c.Grid[i][j] = blank
		}
	}
}

// DrawLine draws with Bresenham's algorithm.
func (c *Canvas) DrawLine(x0, y0, x1, y1 int) {
	dx, dy := absInt(x1-x0), absInt(y1-y0)
	sx, sy := -1, -1
	if x0 < x1 {
		sx = 1
	}
	if y0 < y1 {
		sy = 1
	}
	err := dx - dy
	for {
		c.Set(x0, y0)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

// Lit reports whether any dot of the cell holding (x, y) is set.
func (c *Canvas) Lit(x, y int) bool {
	col, row := x/2, y/4
	if x < 0 || y < 0 || col >= c.Width || row >= c.Height {
		return false
	}
	return c.Grid[row][col] != blank
}

func (c *Canvas) String() string {
	var b strings.Builder
	for _, row := range c.Grid {
		b.WriteString(string(row))
		b.WriteByte('\n')
	}
	return b.String()
}

// View projects world points onto the canvas: world x to the right, world z
// up, with the base at the bottom centre.
type View struct {
	Scale float64 // dots per metre
}

// NewView fits a workspace of the given reach in metres onto c.
func NewView(c *Canvas, reach float64) View {
	if reach <= 0 {
		reach = 1
	}
	w, h := float64(c.Width*2), float64(c.Height*4)
	s := w / (2 * reach)
	if hs := 0.8 * h / reach; hs < s {
		s = hs
	}
	return View{Scale: s}
}

func (v View) Project(c *Canvas, p r3.Vector) (int, int) {
	ox, oy := c.Width, c.Height*4-4
	return ox + int(p.X*v.Scale), oy - int(p.Z*v.Scale)
}

// Polyline draws segments through points.
func (v View) Polyline(c *Canvas, pts []r3.Vector) {
	for i := 1; i < len(pts); i++ {
		x0, y0 := v.Project(c, pts[i-1])
		x1, y1 := v.Project(c, pts[i])
		c.DrawLine(x0, y0, x1, y1)
	}
}

// Dots marks every point.
func (v View) Dots(c *Canvas, pts []r3.Vector) {
	for _, p := range pts {
		x, y := v.Project(c, p)
		c.Set(x, y)
	}
}

// Arm draws the links of chain at configuration q from the base outwards.
// A configuration of the wrong length draws nothing.
func (v View) Arm(c *Canvas, chain *kinematics.Chain, q []float64) {
	if len(q) != chain.DOF() {
		return
	}
	pts := []r3.Vector{{}}
	for _, f := range chain.Forward(q) {
		pts = append(pts, f.P)
	}
	v.Polyline(c, pts)
}

// Reach bounds the workspace of chain around its neutral pose.
func Reach(chain *kinematics.Chain) float64 {
	var r float64
	for _, f := range chain.Forward(chain.Neutral) {
		r = math.Max(r, f.P.Norm())
	}
	return 1.3*r + 0.05
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
