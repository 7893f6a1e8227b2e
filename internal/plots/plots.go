// Package plots renders demo results and recorded episodes to PNG.
package plots

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/san-kum/armsim/internal/demo"
	"github.com/san-kum/armsim/internal/storage"
)

const (
	widthIn  = 8.0
	heightIn = 6.0
	dpi      = 150
)

// Series is one named line.
type Series struct {
	Name string
	X, Y []float64
}

func stylePlot(p *plot.Plot) {
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.Title.Padding = vg.Points(8)
	p.X.Label.TextStyle.Font.Size = vg.Points(12)
	p.Y.Label.TextStyle.Font.Size = vg.Points(12)
	p.X.Padding = vg.Points(10)
	p.Y.Padding = vg.Points(10)
	p.Legend.Top = true
	p.Add(plotter.NewGrid())
}

// Lines draws every series onto one plot. Points with a NaN coordinate are
// dropped.
func Lines(title, xlabel, ylabel string, series ...Series) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	stylePlot(p)

	drawn := 0
	for i, s := range series {
		if len(s.X) != len(s.Y) {
			return nil, fmt.Errorf("series %q: %d x values for %d y values", s.Name, len(s.X), len(s.Y))
		}
		pts := make(plotter.XYs, 0, len(s.X))
		for k := range s.X {
			if math.IsNaN(s.X[k]) || math.IsNaN(s.Y[k]) {
				continue
			}
			pts = append(pts, plotter.XY{X: s.X[k], Y: s.Y[k]})
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = plotutil.Color(i)
		p.Add(line)
		if s.Name != "" {
			p.Legend.Add(s.Name, line)
		}
		drawn++
	}
	if drawn == 0 {
		return nil, fmt.Errorf("plot %q: no data", title)
	}
	return p, nil
}

// SavePNG writes p at a fixed size and resolution.
func SavePNG(p *plot.Plot, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}

	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch),
		vgimg.UseDPI(dpi),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		f.Close()
		return fmt.Errorf("cannot write png: %w", err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func steps(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

// DemoErrors plots the per-axis error of every step of a demo run.
func DemoErrors(res *demo.Result) (*plot.Plot, error) {
	xs := steps(len(res.Errors))
	series := make([]Series, len(res.Axes))
	for i, a := range res.Axes {
		series[i] = Series{Name: a, X: xs, Y: demo.Series(res.Errors, i)}
	}
	return Lines(fmt.Sprintf("%s demo: error per axis", res.Demo), "policy step", "error", series...)
}

// DemoPositions plots goal against measured position. Pose demos are drawn
// in the xy plane, joint demos as joint traces over steps.
func DemoPositions(res *demo.Result) (*plot.Plot, error) {
	if len(res.Goals) == 0 {
		return nil, fmt.Errorf("demo %s: no steps", res.Demo)
	}
	if demo.IsJointSpace(res.Demo) {
		xs := steps(len(res.States))
		var series []Series
		for i, a := range res.Axes {
			series = append(series,
				Series{Name: a + " goal", X: xs, Y: demo.Series(res.Goals, i)},
				Series{Name: a, X: xs, Y: demo.Series(res.States, i)},
			)
		}
		return Lines(fmt.Sprintf("%s demo: joint positions", res.Demo), "policy step", "position", series...)
	}
	return Lines(fmt.Sprintf("%s demo: end effector path", res.Demo), "x (m)", "y (m)",
		Series{Name: "goal", X: demo.Series(res.Goals, 0), Y: demo.Series(res.Goals, 1)},
		Series{Name: "measured", X: demo.Series(res.States, 0), Y: demo.Series(res.States, 1)},
	)
}

// SaveDemo writes errors.png and positions.png into dir.
func SaveDemo(res *demo.Result, dir string) ([]string, error) {
	var written []string
	for name, build := range map[string]func(*demo.Result) (*plot.Plot, error){
		"errors.png":    DemoErrors,
		"positions.png": DemoPositions,
	} {
		p, err := build(res)
		if err != nil {
			return written, err
		}
		path := filepath.Join(dir, name)
		if err := SavePNG(p, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// Episode builds the tracking error, end-effector position and torque plots
// of a recorded episode, keyed by file name.
func Episode(meta *storage.EpisodeMetadata, ticks *storage.Ticks) (map[string]*plot.Plot, error) {
	t := ticks.Column("time")
	if len(t) == 0 {
		return nil, fmt.Errorf("episode %s: no ticks", meta.ID)
	}
	out := make(map[string]*plot.Plot)

	p, err := Lines(fmt.Sprintf("%s: tracking error", meta.ID), "time (s)", "error",
		Series{Name: "error", X: t, Y: ticks.Column("error")})
	if err == nil {
		out["tracking_error.png"] = p
	}

	var pos []Series
	for _, c := range []string{"x", "y", "z"} {
		pos = append(pos, Series{Name: c, X: t, Y: ticks.Column(c)})
		if g := ticks.Column("g" + c); g != nil {
			pos = append(pos, Series{Name: c + " goal", X: t, Y: g})
		}
	}
	if p, err = Lines(fmt.Sprintf("%s: end effector position", meta.ID), "time (s)", "position (m)", pos...); err != nil {
		return nil, err
	}
	out["ee_position.png"] = p

	var tau []Series
	for i := 0; ; i++ {
		col := ticks.Column(fmt.Sprintf("tau%d", i))
		if col == nil {
			break
		}
		tau = append(tau, Series{Name: fmt.Sprintf("tau%d", i), X: t, Y: col})
	}
	if len(tau) > 0 {
		if p, err = Lines(fmt.Sprintf("%s: joint torques", meta.ID), "time (s)", "torque", tau...); err != nil {
			return nil, err
		}
		out["torques.png"] = p
	}
	return out, nil
}

// SaveEpisode renders Episode into dir and returns the written paths.
func SaveEpisode(meta *storage.EpisodeMetadata, ticks *storage.Ticks, dir string) ([]string, error) {
	ps, err := Episode(meta, ticks)
	if err != nil {
		return nil, err
	}
	var written []string
	for name, p := range ps {
		path := filepath.Join(dir, name)
		if err := SavePNG(p, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
