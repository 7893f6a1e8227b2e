package storage

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/metrics"
	"github.com/san-kum/armsim/internal/robot"
)

// Recorder streams control ticks of one episode into ticks.csv and writes
// metadata.json on Close. Observe has the robot.Observer signature.
type Recorder struct {
	store *Store
	meta  EpisodeMetadata
	suite metrics.Suite

	mu     sync.Mutex
	file   *os.File
	w      *csv.Writer
	dof    int
	start  time.Time
	err    error
	closed bool
}

// Record starts a new episode. meta.ID and meta.Timestamp are assigned here.
// The optional suite supplies the metrics written on Close; it is not fed
// by the recorder.
func (s *Store) Record(meta EpisodeMetadata, suite metrics.Suite) (*Recorder, error) {
	meta.ID = newID(meta.Chain)
	meta.Timestamp = time.Now()
	dir := s.Path(meta.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(dir, ticksFile))
	if err != nil {
		return nil, err
	}
	return &Recorder{store: s, meta: meta, suite: suite, file: f, w: csv.NewWriter(f)}, nil
}

func (r *Recorder) ID() string { return r.meta.ID }

func header(dof int) []string {
	h := []string{"tick", "time"}
	for i := 0; i < dof; i++ {
		h = append(h, fmt.Sprintf("q%d", i))
	}
	for i := 0; i < dof; i++ {
		h = append(h, fmt.Sprintf("qd%d", i))
	}
	h = append(h, "x", "y", "z", "qx", "qy", "qz", "qw", "gx", "gy", "gz", "error")
	for i := 0; i < dof; i++ {
		h = append(h, fmt.Sprintf("tau%d", i))
	}
	return append(h, "singular")
}

func format(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

func (r *Recorder) Observe(rec robot.TickRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.err != nil || rec.Snapshot == nil {
		return
	}

	s := rec.Snapshot
	if r.dof == 0 {
		r.dof = s.DOF()
		r.start = s.Time()
		if r.err = r.w.Write(header(r.dof)); r.err != nil {
			return
		}
	}

	row := make([]string, 0, 2+3*r.dof+12)
	row = append(row, strconv.Itoa(rec.Tick), format(s.Time().Sub(r.start).Seconds()))
	for _, v := range s.Q() {
		row = append(row, format(v))
	}
	for _, v := range s.QDot() {
		row = append(row, format(v))
	}
	p := s.EEPose()
	o := p.Orientation
	row = append(row, format(p.Position.X), format(p.Position.Y), format(p.Position.Z),
		format(o.Imag), format(o.Jmag), format(o.Kmag), format(o.Real))

	g := [3]float64{math.NaN(), math.NaN(), math.NaN()}
	if rec.HasGoal && rec.Goal.Kind == arm.GoalEEPose {
		g = [3]float64{rec.Goal.Pose.Position.X, rec.Goal.Pose.Position.Y, rec.Goal.Pose.Position.Z}
	}
	for _, v := range g {
		row = append(row, format(v))
	}
	e, ok := metrics.GoalError(rec)
	if !ok {
		e = math.NaN()
	}
	row = append(row, format(e))

	for i := 0; i < r.dof; i++ {
		var tau float64
		if i < len(rec.Torque) {
			tau = rec.Torque[i]
		}
		row = append(row, format(tau))
	}
	singular := "0"
	if rec.Singular {
		singular = "1"
	}
	row = append(row, singular)

	r.err = r.w.Write(row)
	r.meta.Ticks++
}

// SetSteps records the number of completed policy steps.
func (r *Recorder) SetSteps(n int) {
	r.mu.Lock()
	r.meta.Steps = n
	r.mu.Unlock()
}

// SetAxisError records the final per-axis tracking error.
func (r *Recorder) SetAxisError(e map[string]float64) {
	r.mu.Lock()
	r.meta.AxisError = e
	r.mu.Unlock()
}

// Fail marks the episode as ended by err.
func (r *Recorder) Fail(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.meta.Err = err.Error()
	r.mu.Unlock()
}

// Metadata returns a copy of the metadata as it would be written now.
func (r *Recorder) Metadata() EpisodeMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta := r.meta
	meta.Metrics = r.values()
	return meta
}

func (r *Recorder) values() map[string]float64 {
	out := map[string]float64{}
	if r.suite != nil {
		for k, v := range r.suite.Values() {
			out[k] = v
		}
	}
	return out
}

// Close flushes the tick table and writes metadata.json. Close is idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	r.w.Flush()
	err := multierr.Append(r.err, r.w.Error())
	err = multierr.Append(err, r.file.Close())

	r.meta.Metrics = r.values()
	return multierr.Append(err, r.store.writeMetadata(&r.meta))
}
