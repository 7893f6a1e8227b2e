package optim

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/config"
	"github.com/san-kum/armsim/internal/controllers"
	"github.com/san-kum/armsim/internal/demo"
)

func TestNewGridSearchValidates(t *testing.T) {
	_, err := NewGridSearch([]string{"kp"}, nil, nil)
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)

	_, err = NewGridSearch([]string{"ki"}, [][]float64{{1}}, nil)
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)

	_, err = NewGridSearch([]string{"kp"}, [][]float64{{}}, nil)
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)

	g, err := NewGridSearch([]string{"kp", "damping"}, [][]float64{{1, 2}, {0.5}}, nil)
	require.NoError(t, err)
	assert.NotNil(t, g)
}

func TestSearchVisitsEveryPoint(t *testing.T) {
	g, err := NewGridSearch([]string{"kp", "kv"}, [][]float64{{50, 100, 150}, {5, 20}}, nil)
	require.NoError(t, err)

	// Minimum at kp=100, kv=20.
	eval := func(_ context.Context, p map[string]float64) (float64, error) {
		return math.Abs(p["kp"]-100) + math.Abs(p["kv"]-20), nil
	}
	best, trials, err := g.Search(context.Background(), eval)
	require.NoError(t, err)
	assert.Len(t, trials, 6)
	assert.Equal(t, map[string]float64{"kp": 100, "kv": 20}, best.Params)
	assert.Zero(t, best.Value)

	assert.Equal(t, 50.0, trials[0].Params["kp"])
	assert.Equal(t, 5.0, trials[0].Params["kv"])
	assert.Equal(t, 20.0, trials[1].Params["kv"])
}

func TestSearchSkipsFailedTrials(t *testing.T) {
	g, err := NewGridSearch([]string{"kp"}, [][]float64{{1, 2, 3}}, nil)
	require.NoError(t, err)

	eval := func(_ context.Context, p map[string]float64) (float64, error) {
		if p["kp"] == 1 {
			return 0, errors.New("unstable")
		}
		return p["kp"], nil
	}
	best, trials, err := g.Search(context.Background(), eval)
	require.NoError(t, err)
	require.Len(t, trials, 3)
	assert.Error(t, trials[0].Err)
	assert.Equal(t, 2.0, best.Params["kp"])
}

func TestSearchAllFailed(t *testing.T) {
	g, err := NewGridSearch([]string{"kp"}, [][]float64{{1, 2}}, nil)
	require.NoError(t, err)
	_, trials, err := g.Search(context.Background(), func(context.Context, map[string]float64) (float64, error) {
		return 0, errors.New("unstable")
	})
	assert.Error(t, err)
	assert.Len(t, trials, 2)
}

func TestSearchStopsOnCancel(t *testing.T) {
	g, err := NewGridSearch([]string{"kp"}, [][]float64{{1, 2, 3}}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	_, _, err = g.Search(ctx, func(context.Context, map[string]float64) (float64, error) {
		calls++
		cancel()
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestApply(t *testing.T) {
	base := config.DefaultConfig()
	base.Controller = string(controllers.EEImpedance)

	cfg, err := Apply(base, map[string]float64{"kp": 90, "damping": 0.7})
	require.NoError(t, err)
	cc := cfg.ControllerConfig(controllers.EEImpedance)
	assert.Equal(t, []float64{90}, cc.Kp)
	assert.Nil(t, cc.Kv)
	assert.Equal(t, 0.7, cc.Damping)
	assert.Empty(t, base.Controllers, "base must not change")

	cfg, err = Apply(base, map[string]float64{"kp_ori": 40})
	require.NoError(t, err)
	cc = cfg.ControllerConfig(controllers.EEImpedance)
	assert.False(t, cc.Coupled)
	assert.Equal(t, []float64{40}, cc.KpOri)
	_, err = controllers.NewRegistry().New(controllers.EEImpedance, cc, 6)
	assert.NoError(t, err)

	_, err = Apply(base, map[string]float64{"ki": 1})
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)
}

func TestDemoEvaluator(t *testing.T) {
	if testing.Short() {
		t.Skip("runs simulated episodes")
	}
	base := config.DefaultConfig()
	base.Controller = string(controllers.EEImpedance)
	opts := demo.DefaultOptions()
	opts.Steps = 8

	eval := DemoEvaluator(base, "line", opts, "tracking_error_rms")
	soft, err := eval(context.Background(), map[string]float64{"kp": 20})
	require.NoError(t, err)
	stiff, err := eval(context.Background(), map[string]float64{"kp": 150})
	require.NoError(t, err)
	assert.Less(t, stiff, soft)

	_, err = DemoEvaluator(base, "line", opts, "nope")(context.Background(), map[string]float64{"kp": 150})
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)
}
