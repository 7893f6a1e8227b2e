// Package tui runs a demo step by step in a bubbletea terminal view.
package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/golang/geo/r3"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/demo"
	"github.com/san-kum/armsim/internal/kinematics"
)

const (
	width           = 60
	height          = 20
	historyCapacity = 300
	trailCapacity   = 400
)

var (
	canvasStyle  = lipgloss.NewStyle().Padding(1, 2)
	statsStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color("240")).Padding(1, 2).Width(48)
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff88")).Bold(true)
	pausedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffaa00")).Bold(true)
	graphStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

type TickMsg time.Time

type Option func(*Model)

// WithFrameRate sets the policy steps taken per second of wall time.
func WithFrameRate(hz float64) Option {
	return func(m *Model) {
		if hz > 0 {
			m.frame = time.Duration(float64(time.Second) / hz)
		}
	}
}

// WithStepHook is called after every policy step.
func WithStepHook(fn func(demo.StepResult)) Option {
	return func(m *Model) { m.onStep = fn }
}

// WithController names the controller shown in the header.
func WithController(name string) Option {
	return func(m *Model) { m.controller = name }
}

// Model drives one demo against an environment, one policy step per frame.
type Model struct {
	ctx        context.Context
	env        demo.Env
	chain      *kinematics.Chain
	name       string
	opts       demo.Options
	controller string
	frame      time.Duration
	onStep     func(demo.StepResult)

	demo    demo.Demo
	obs     arm.Observation
	step    int
	running bool
	err     error
	result  *demo.Result

	errHistory []float64
	goalTrail  []r3.Vector
	eeTrail    []r3.Vector
	canvas     *Canvas
	view       View
	showHelp   bool
}

// NewModel resets env and builds the named demo from the reset observation.
func NewModel(ctx context.Context, env demo.Env, chain *kinematics.Chain, name string, opts demo.Options, o ...Option) (*Model, error) {
	m := &Model{
		ctx:     ctx,
		env:     env,
		chain:   chain,
		name:    name,
		opts:    opts,
		frame:   time.Second / 20,
		running: true,
		canvas:  NewCanvas(width, height),
	}
	for _, fn := range o {
		fn(m)
	}
	m.view = NewView(m.canvas, Reach(chain))
	if err := m.restart(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) restart() error {
	obs, err := m.env.Reset(m.ctx)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	d, err := demo.New(m.name, obs, m.opts)
	if err != nil {
		return err
	}
	m.demo, m.obs, m.step, m.err = d, obs, 0, nil
	m.result = &demo.Result{Demo: d.Name(), Axes: d.Axes()}
	m.errHistory = m.errHistory[:0]
	m.goalTrail = m.goalTrail[:0]
	m.eeTrail = m.eeTrail[:0]
	return nil
}

// Result is the run so far.
func (m *Model) Result() *demo.Result { return m.result }

// Err is the error that stopped the run, if any.
func (m *Model) Err() error { return m.err }

// Done reports whether every demo step has been taken or the run failed.
func (m *Model) Done() bool { return m.err != nil || m.step >= m.demo.Len() }

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.frame, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m *Model) Init() tea.Cmd { return m.tick() }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case " ":
			m.running = !m.running
		case "n":
			if !m.running {
				m.advance()
			}
		case "r":
			if err := m.restart(); err != nil {
				m.err = err
			}
		case "?":
			m.showHelp = !m.showHelp
		}
	case TickMsg:
		if m.running {
			m.advance()
		}
		return m, m.tick()
	}
	return m, nil
}

// advance takes one policy step.
func (m *Model) advance() {
	if m.Done() {
		return
	}
	i := m.step
	action := m.demo.Action(i, m.obs)
	obs, err := m.env.Step(m.ctx, &action)
	if err != nil {
		m.err = fmt.Errorf("demo %s step %d: %w", m.demo.Name(), i, err)
		return
	}
	m.obs = obs
	m.step++

	res := demo.StepResult{Step: i, Action: action, Observation: obs, Goal: m.demo.Goal(i), Error: m.demo.Error(i, obs)}
	m.result.Goals = append(m.result.Goals, res.Goal)
	m.result.States = append(m.result.States, m.demo.State(obs))
	m.result.Errors = append(m.result.Errors, res.Error)

	m.errHistory = push(m.errHistory, errorNorm(m.demo, res.Error), historyCapacity)
	m.eeTrail = pushVec(m.eeTrail, obs.EEPose.Position)
	if !demo.IsJointSpace(m.name) {
		m.goalTrail = pushVec(m.goalTrail, r3.Vector{X: res.Goal[0], Y: res.Goal[1], Z: res.Goal[2]})
	}
	if m.onStep != nil {
		m.onStep(res)
	}
}

// errorNorm is the position error for pose demos and the joint error norm
// otherwise.
func errorNorm(d demo.Demo, e []float64) float64 {
	n := len(e)
	if !demo.IsJointSpace(d.Name()) && n >= 3 {
		n = 3
	}
	var sum float64
	for _, v := range e[:n] {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func push(h []float64, v float64, capacity int) []float64 {
	h = append(h, v)
	if len(h) > capacity {
		h = h[1:]
	}
	return h
}

func pushVec(h []r3.Vector, v r3.Vector) []r3.Vector {
	h = append(h, v)
	if len(h) > trailCapacity {
		h = h[1:]
	}
	return h
}

func (m *Model) draw() {
	m.canvas.Clear()
	m.view.Dots(m.canvas, m.goalTrail)
	m.view.Dots(m.canvas, m.eeTrail)
	m.view.Arm(m.canvas, m.chain, m.obs.Q)
}

func (m *Model) status() string {
	switch {
	case m.err != nil:
		return errorStyle.Render("FAILED")
	case m.Done():
		return runningStyle.Render("DONE")
	case m.running:
		return runningStyle.Render("RUNNING")
	}
	return pausedStyle.Render("PAUSED")
}

func (m *Model) View() string {
	m.draw()
	canvasView := canvasStyle.Render(m.canvas.String())

	var s strings.Builder
	title := strings.ToUpper(m.chain.Name + " / " + m.name)
	if m.controller != "" {
		title += " / " + m.controller
	}
	s.WriteString(headerStyle.Render(title) + "\n")
	s.WriteString(m.status() + "\n\n")

	if len(m.errHistory) > 1 {
		chart := asciigraph.Plot(m.errHistory, asciigraph.Height(5), asciigraph.Width(36), asciigraph.Caption("tracking error"))
		s.WriteString(graphStyle.Render(chart) + "\n\n")
	}

	row := func(label, value string) {
		s.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	row("Step", fmt.Sprintf("%d / %d", m.step, m.demo.Len()))
	row("Tick", fmt.Sprintf("%d", m.obs.Tick))
	p := m.obs.EEPose.Position
	row("EE", fmt.Sprintf("%+.3f %+.3f %+.3f", p.X, p.Y, p.Z))
	if n := len(m.errHistory); n > 0 {
		row("Error", fmt.Sprintf("%.5f", m.errHistory[n-1]))
	}
	if m.err != nil {
		s.WriteString("\n" + errorStyle.Render(m.err.Error()) + "\n")
	}

	s.WriteString(helpStyle.Render("\nSP:Pause N:Step R:Restart Q:Quit ?:Help"))
	statsView := statsStyle.Render(s.String())
	mainView := lipgloss.JoinHorizontal(lipgloss.Top, canvasView, statsView)
	if m.showHelp {
		help := strings.Join([]string{
			"Space  pause or resume",
			"N      single step while paused",
			"R      reset the arm and restart the demo",
			"Q      quit",
			"?      toggle this help",
		}, "\n")
		return helpStyle.Render(help) + "\n\n" + mainView
	}
	return mainView
}

// Run shows the model until the user quits and returns the final model.
func Run(ctx context.Context, m *Model) (*Model, error) {
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return m, err
	}
	if fm, ok := final.(*Model); ok {
		return fm, nil
	}
	return m, nil
}
