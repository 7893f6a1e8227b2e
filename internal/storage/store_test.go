package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/kinematics"
	"github.com/san-kum/armsim/internal/metrics"
	"github.com/san-kum/armsim/internal/model"
	"github.com/san-kum/armsim/internal/robot"
)

func tick(t *testing.T, n int, q []float64, goal *arm.Goal) robot.TickRecord {
	t.Helper()
	st := arm.JointState{Positions: q, Time: time.Unix(0, 0).Add(time.Duration(n) * 2 * time.Millisecond)}
	s, err := model.Build(kinematics.Cartesian6(), st, n)
	if err != nil {
		t.Fatal(err)
	}
	rec := robot.TickRecord{Tick: n, Snapshot: s, Torque: arm.Torque{1, 2, 3, 4, 5, 6}}
	if goal != nil {
		rec.Goal = *goal
		rec.HasGoal = true
	}
	return rec
}

func record(t *testing.T, st *Store, chain string) string {
	t.Helper()
	suite := metrics.Default()
	rec, err := st.Record(EpisodeMetadata{Chain: chain, Mode: "sim", Controller: "EEImpedance"}, suite)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	q := []float64{0.1, 0.2, 0.3, 0, 0, 0}
	goal := arm.JointPositionGoal([]float64{0.1, 0.2, 0.7, 0, 0, 0})
	for i := 0; i < 3; i++ {
		r := tick(t, i, q, &goal)
		suite.Observe(r)
		rec.Observe(r)
	}
	rec.SetSteps(1)
	if err := rec.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	return rec.ID()
}

func TestRecordLoad(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	id := record(t, st, "cartesian6")
	meta, err := st.Load(id)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Chain != "cartesian6" || meta.Ticks != 3 || meta.Steps != 1 {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if math.Abs(meta.Metrics["tracking_error_rms"]-0.4) > 1e-9 {
		t.Errorf("expected tracking error 0.4, got %f", meta.Metrics["tracking_error_rms"])
	}

	ticks, err := st.LoadTicks(id)
	if err != nil {
		t.Fatalf("load ticks failed: %v", err)
	}
	if ticks.Len() != 3 {
		t.Fatalf("expected 3 ticks, got %d", ticks.Len())
	}
	if got := ticks.Column("time"); got[2] != 0.004 {
		t.Errorf("expected time 0.004, got %v", got)
	}
	if got := ticks.Column("z"); math.Abs(got[0]-0.1) > 1e-6 {
		t.Errorf("expected z 0.1, got %f", got[0])
	}
	if got := ticks.Column("gx"); !math.IsNaN(got[0]) {
		t.Errorf("joint goals have no cartesian target, got %f", got[0])
	}
	if got := ticks.Column("tau5"); got[1] != 6 {
		t.Errorf("expected tau5 6, got %f", got[1])
	}
	if ticks.Column("missing") != nil {
		t.Error("expected nil for a missing column")
	}
}

func TestRecorderCloseIsIdempotent(t *testing.T) {
	st := New(t.TempDir())
	rec, err := st.Record(EpisodeMetadata{Chain: "arm7"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec.Fail(errors.New("boom"))
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	rec.Observe(tick(t, 0, make([]float64, 6), nil))

	meta, err := st.Load(rec.ID())
	if err != nil {
		t.Fatal(err)
	}
	if meta.Err != "boom" || meta.Ticks != 0 {
		t.Errorf("unexpected metadata %+v", meta)
	}
}

func TestStoreList(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "runs"))

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}
	if _, err := st.Latest(); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	first := record(t, st, "cartesian6")
	second := record(t, st, "arm7")
	if err := os.MkdirAll(filepath.Join(st.Dir(), "junk"), 0755); err != nil {
		t.Fatal(err)
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != first {
		t.Errorf("expected oldest first")
	}
	latest, err := st.Latest()
	if err != nil || latest != second {
		t.Errorf("expected latest %s, got %s (%v)", second, latest, err)
	}
}

func TestStoreFileStructure(t *testing.T) {
	st := New(t.TempDir())
	id := record(t, st, "cartesian6")

	for _, name := range []string{"metadata.json", "ticks.csv"} {
		if _, err := os.Stat(filepath.Join(st.Path(id), name)); os.IsNotExist(err) {
			t.Errorf("%s not created", name)
		}
	}

	if _, err := st.Load("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := st.LoadTicks("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExport(t *testing.T) {
	st := New(t.TempDir())
	id := record(t, st, "cartesian6")

	var buf bytes.Buffer
	if err := st.Export(&buf, id); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	var data struct {
		Metadata EpisodeMetadata `json:"metadata"`
		Columns  []string        `json:"columns"`
		Ticks    [][]*float64    `json:"ticks"`
	}
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatalf("export is not valid json: %v", err)
	}
	if data.Metadata.ID != id || len(data.Ticks) != 3 {
		t.Errorf("unexpected export %+v", data.Metadata)
	}
	for i, c := range data.Columns {
		if c == "gx" && data.Ticks[0][i] != nil {
			t.Error("expected null for a missing goal position")
		}
	}
}
