package plots

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/armsim/internal/demo"
	"github.com/san-kum/armsim/internal/storage"
)

func isPNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")), "%s is not a png", path)
}

func TestLinesRejectsBadSeries(t *testing.T) {
	_, err := Lines("t", "x", "y", Series{X: []float64{1, 2}, Y: []float64{1}})
	assert.Error(t, err)

	_, err = Lines("t", "x", "y", Series{X: []float64{math.NaN()}, Y: []float64{1}})
	assert.Error(t, err, "series without finite points")

	p, err := Lines("t", "x", "y", Series{Name: "a", X: []float64{0, 1, 2}, Y: []float64{0, math.NaN(), 2}})
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestSaveDemo(t *testing.T) {
	res := &demo.Result{
		Demo:   "line",
		Axes:   []string{"x", "y", "z", "ax", "ay", "az"},
		Goals:  [][]float64{{0.4, 0.1, 0.3, 0, 0, 0, 1}, {0.41, 0.1, 0.3, 0, 0, 0, 1}},
		States: [][]float64{{0.399, 0.1, 0.3, 0, 0, 0, 1}, {0.409, 0.1, 0.3, 0, 0, 0, 1}},
		Errors: [][]float64{{0.001, 0, 0, 0, 0, 0}, {0.001, 0, 0, 0, 0, 0}},
	}
	written, err := SaveDemo(res, filepath.Join(t.TempDir(), "plots"))
	require.NoError(t, err)
	assert.Len(t, written, 2)
	for _, p := range written {
		isPNG(t, p)
	}

	_, err = DemoPositions(&demo.Result{Demo: "line"})
	assert.Error(t, err)
}

func TestJointDemoPositions(t *testing.T) {
	res := &demo.Result{
		Demo:   "joint",
		Axes:   []string{"q0", "q1"},
		Goals:  [][]float64{{0, 0}, {0.05, 0}},
		States: [][]float64{{0, 0}, {0.04, 0}},
		Errors: [][]float64{{0, 0}, {0.01, 0}},
	}
	p, err := DemoPositions(res)
	require.NoError(t, err)
	assert.Equal(t, "joint demo: joint positions", p.Title.Text)
}

func TestSaveEpisode(t *testing.T) {
	nan := math.NaN()
	ticks := &storage.Ticks{
		Header: []string{"tick", "time", "x", "y", "z", "gx", "gy", "gz", "error", "tau0", "tau1"},
		Rows: [][]float64{
			{0, 0.000, 0.40, 0.1, 0.3, 0.5, 0.1, 0.3, 0.10, 1, 2},
			{1, 0.002, 0.45, 0.1, 0.3, 0.5, 0.1, 0.3, 0.05, 1, 2},
			{2, 0.004, 0.50, 0.1, 0.3, nan, nan, nan, nan, 0, 0},
		},
	}
	meta := &storage.EpisodeMetadata{ID: "cartesian6_abc"}

	ps, err := Episode(meta, ticks)
	require.NoError(t, err)
	assert.Contains(t, ps, "tracking_error.png")
	assert.Contains(t, ps, "ee_position.png")
	assert.Contains(t, ps, "torques.png")

	written, err := SaveEpisode(meta, ticks, t.TempDir())
	require.NoError(t, err)
	assert.Len(t, written, 3)
	for _, p := range written {
		isPNG(t, p)
	}

	_, err = Episode(meta, &storage.Ticks{})
	assert.Error(t, err)
}
