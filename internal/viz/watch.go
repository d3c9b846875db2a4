package viz

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/siminf/internal/host"
)

const historyCapacity = 365

type TickMsg time.Time

// Watch is a bubbletea model that steps a host session on a ticker and
// plots one model state variable per node.
type Watch struct {
	session  *host.Session
	state    int
	label    string
	interval time.Duration
	selected int
	running  bool
	history  [][]float64
	err      error
}

// NewWatch plots state variable index state of every node in s.
func NewWatch(s *host.Session, state int, interval time.Duration) Watch {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	w := Watch{
		session:  s,
		state:    state,
		label:    s.Model().StateVariables()[state],
		interval: interval,
		running:  true,
		history:  make([][]float64, len(s.Nodes())),
	}
	w.sample()
	return w
}

func (w Watch) tick() tea.Cmd {
	return tea.Tick(w.interval, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (w Watch) Init() tea.Cmd {
	return w.tick()
}

func (w Watch) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return w, tea.Quit
		case " ":
			w.running = !w.running
		case "s":
			w.advance()
		case "tab", "n":
			w.selected = (w.selected + 1) % len(w.history)
		case "shift+tab", "p":
			w.selected = (w.selected + len(w.history) - 1) % len(w.history)
		}
	case TickMsg:
		if w.running {
			w.advance()
		}
		if w.err != nil {
			return w, tea.Quit
		}
		return w, w.tick()
	}
	return w, nil
}

func (w *Watch) advance() {
	if w.session.Done() || w.err != nil {
		w.running = false
		return
	}
	if err := w.session.Step(context.Background()); err != nil {
		w.err = err
		return
	}
	w.sample()
}

func (w *Watch) sample() {
	for i, n := range w.session.Nodes() {
		w.history[i] = append(w.history[i], n.V[w.state])
		if len(w.history[i]) > historyCapacity {
			w.history[i] = w.history[i][1:]
		}
	}
}

// Selected returns the index of the node being plotted.
func (w Watch) Selected() int { return w.selected }

// History returns the recorded values for node index i, oldest first.
func (w Watch) History(i int) []float64 { return w.history[i] }

func (w Watch) Err() error { return w.err }

func (w Watch) status() string {
	switch {
	case w.err != nil:
		return Warning.Render("ERROR " + w.err.Error())
	case w.session.Done():
		return StatusDone.Render("DONE")
	case w.running:
		return StatusRunning.Render("RUNNING")
	default:
		return StatusPaused.Render("PAUSED")
	}
}

func (w Watch) View() string {
	s := w.session
	m := s.Model()
	node := s.Nodes()[w.selected]

	var b strings.Builder
	b.WriteString(Title.Render(strings.ToUpper(m.Name())) + "  " + w.status() + "\n\n")

	if data := w.history[w.selected]; len(data) > 1 {
		caption := fmt.Sprintf("%s, node %d", w.label, node.ID)
		b.WriteString(Graph.Render(asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(60),
			asciigraph.Caption(caption))) + "\n\n")
	}

	b.WriteString(KV("time", fmt.Sprintf("%.2f", s.Time())) + "\n")
	b.WriteString(KV("node", fmt.Sprintf("%d (%d/%d)", node.ID, w.selected+1, len(w.history))) + "\n")
	for j, name := range m.Compartments() {
		b.WriteString(KV(name, node.U[j]) + "\n")
	}
	for j, name := range m.StateVariables() {
		b.WriteString(KV(name, fmt.Sprintf("%.6g", node.V[j])) + "\n")
	}
	for j, tr := range m.Transitions() {
		b.WriteString(KV(tr.Name, fmt.Sprintf("%.6g", s.Rates()[w.selected][j])) + "\n")
	}
	b.WriteString(KV("recomputes", s.Recomputes()) + "\n")
	if n := len(s.Errors()); n > 0 {
		b.WriteString(MetricLabel.Render("errors") + Warning.Render(fmt.Sprint(n)) + "\n")
	}

	b.WriteString("\n" + Separator(40) + "\n")
	b.WriteString(KeyHint.Render("SPACE:pause  S:step  TAB/N:next node  P:prev  Q:quit"))

	return lipgloss.JoinVertical(lipgloss.Left, Panel.Render(b.String()))
}
