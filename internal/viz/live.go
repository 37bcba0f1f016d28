package viz

import (
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
)

const (
	width           = 80
	height          = 24
	historyCapacity = 600
	trailLength     = 100
)

type frameMsg Frame

type doneMsg struct{ err error }

// Model renders a Stream. System selects the drawing: cartpole, pendulum,
// or bars for anything else.
type Model struct {
	stream *Stream
	system string
	canvas *Canvas

	frame   Frame
	costs   []float64
	total   float64
	trail   []struct{ x, y int }
	paused  bool
	waiting bool
	done    bool
	err     error
}

func NewModel(s *Stream, system string) Model {
	return Model{
		stream:  s,
		system:  system,
		canvas:  NewCanvas(width, height),
		costs:   make([]float64, 0, historyCapacity),
		waiting: true,
	}
}

func (m Model) Init() tea.Cmd { return m.next() }

func (m Model) next() tea.Cmd {
	frames := m.stream.Frames()
	return func() tea.Msg {
		f, ok := <-frames
		if !ok {
			_, err := m.stream.Wait()
			return doneMsg{err: err}
		}
		return frameMsg(f)
	}
}

// Update consumes frames and keys. Only one read of the stream is in
// flight at a time.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.paused = !m.paused
			if !m.paused && !m.done && !m.waiting {
				m.waiting = true
				return m, m.next()
			}
		}
	case frameMsg:
		m.waiting = false
		m.observe(Frame(msg))
		if !m.paused {
			m.waiting = true
			return m, m.next()
		}
	case doneMsg:
		m.waiting = false
		m.done = true
		m.err = msg.err
	}
	return m, nil
}

func (m *Model) observe(f Frame) {
	m.frame = f
	m.total += f.Cost
	m.costs = append(m.costs, f.Cost)
	if len(m.costs) > historyCapacity {
		m.costs = m.costs[1:]
	}
	m.draw()
}

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render(strings.ToUpper(m.system)) + "\n")
	switch {
	case m.err != nil:
		s.WriteString(errorStyle.Render("FAILED") + "\n" + valueStyle.Render(m.err.Error()) + "\n\n")
	case m.done:
		s.WriteString(pausedStyle.Render("DONE") + "\n\n")
	case m.paused:
		s.WriteString(pausedStyle.Render("PAUSED") + "\n\n")
	default:
		s.WriteString(runningStyle.Render("RUNNING") + "\n\n")
	}
	if len(m.costs) > 1 {
		chart := asciigraph.Plot(m.costs, asciigraph.Height(4), asciigraph.Width(30), asciigraph.Caption("Cost"))
		s.WriteString(graphStyle.Render(chart) + "\n\n")
	}
	s.WriteString(labelStyle.Render("Time") + valueStyle.Render(fmt.Sprintf("%.2fs", m.frame.Time)) + "\n")
	s.WriteString(labelStyle.Render("Cost") + valueStyle.Render(fmt.Sprintf("%.3f (Σ %.2f)", lastOr(m.costs), m.total)) + "\n")
	for i, u := range m.frame.Control {
		s.WriteString(labelStyle.Render(fmt.Sprintf("u%d", i)) + valueStyle.Render(fmt.Sprintf("%+.3f", u)) + "\n")
	}
	s.WriteString("\nSTATE\n")
	for i, x := range m.frame.State {
		s.WriteString(labelStyle.Render(fmt.Sprintf("  x%d", i)) + valueStyle.Render(fmt.Sprintf("%+.3f", x)) + "\n")
	}
	s.WriteString(helpStyle.Render("SP:Pause Q:Quit"))

	canvasView := canvasStyle.Render(m.canvas.String())
	return lipgloss.JoinHorizontal(lipgloss.Top, canvasView, statsStyle.Render(s.String()))
}

func lastOr(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return v[len(v)-1]
}

func (m *Model) draw() {
	m.canvas.Clear()
	switch m.system {
	case "cartpole":
		m.drawCartpole()
	case "pendulum":
		m.drawPendulum()
	default:
		m.drawBars()
	}
}

// drawCartpole expects [x, dx, dθ, θ] with θ = 0 hanging down.
func (m *Model) drawCartpole() {
	x := m.frame.State
	if len(x) < 4 {
		return
	}
	cw, ch := m.canvas.Dots()
	groundY := ch - 12
	cartX := cw/2 + int(x[0]*20)
	m.canvas.DrawLine(0, groundY+4, cw, groundY+4)
	m.canvas.FillRect(cartX-6, groundY, cartX+6, groundY+3)

	poleLen := float64(ch) * 0.4
	px := cartX + int(poleLen*math.Sin(x[3]))
	py := groundY + int(poleLen*math.Cos(x[3]))
	m.canvas.DrawLine(cartX, groundY, px, py)
	m.addTrail(px, py)
}

// drawPendulum expects [dθ, θ] with θ = 0 hanging down.
func (m *Model) drawPendulum() {
	x := m.frame.State
	if len(x) < 2 {
		return
	}
	cw, ch := m.canvas.Dots()
	cx, cy := cw/2, ch/2
	length := float64(ch) * 0.4
	bx := cx + int(length*math.Sin(x[1]))
	by := cy + int(length*math.Cos(x[1]))
	m.canvas.Set(cx, cy)
	m.canvas.DrawLine(cx, cy, bx, by)
	m.canvas.FillRect(bx-1, by-1, bx+1, by+1)
	m.addTrail(bx, by)
}

// drawBars shows each state as a horizontal bar around the center line,
// scaled by tanh.
func (m *Model) drawBars() {
	x := m.frame.State
	cw, ch := m.canvas.Dots()
	if len(x) == 0 {
		return
	}
	row := ch / len(x)
	mid := cw / 2
	for i, v := range x {
		y := i*row + row/2
		end := mid + int(math.Tanh(v)*float64(mid-1))
		m.canvas.FillRect(mid, y-1, end, y+1)
	}
	m.canvas.DrawLine(mid, 0, mid, ch-1)
}

func (m *Model) addTrail(x, y int) {
	m.trail = append(m.trail, struct{ x, y int }{x, y})
	if len(m.trail) > trailLength {
		m.trail = m.trail[1:]
	}
	for _, pt := range m.trail {
		m.canvas.Set(pt.x, pt.y)
	}
}
