package cli

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/gridroute/pkg/observability"
	"github.com/matzehuels/gridroute/pkg/route"
)

// Shared colors for CLI output.
var (
	colorCyan  = lipgloss.Color("36")  // Teal - primary
	colorGreen = lipgloss.Color("35")  // Green - success
	colorRed   = lipgloss.Color("167") // Soft red - errors
	colorWhite = lipgloss.Color("255") // Bright white - values
	colorDim   = lipgloss.Color("240") // Dim gray - muted text
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleValue   = lipgloss.NewStyle().Foreground(colorWhite)
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
	styleSuccess = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	styleFailure = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
)

// renderRouteSummary formats the end-of-run summary table.
func renderRouteSummary(design *Design, opts route.Options, ok bool, elapsed time.Duration) string {
	result := styleSuccess.Render("routed")
	if !ok {
		result = styleFailure.Render("failed")
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleDim).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return styleDim.Padding(0, 1)
			}
			return styleValue.Padding(0, 1)
		}).
		Row("design", fmt.Sprintf("%d nets on %dx%d", len(design.Nets), design.Grid.Width, design.Grid.Height)).
		Row("workers", fmt.Sprintf("%d (%s heap)", opts.NumWorkers, opts.RouterHeap)).
		Row("result", result).
		Row("time", elapsed.Round(time.Millisecond).String())

	return styleTitle.Render("gridroute") + "\n" + t.Render()
}

// =============================================================================
// Live progress (bubbletea)
// =============================================================================

// iterMsg carries one iteration's outcome into the progress model.
type iterMsg struct {
	itry     int
	overused int
	elapsed  time.Duration
}

type tickMsg time.Time

// progressModel is the bubbletea model for live routing progress.
type progressModel struct {
	nets     int
	maxIters int
	frame    int
	last     *iterMsg
	done     bool
}

var progressFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func (m progressModel) Init() tea.Cmd { return tick() }

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.frame = (m.frame + 1) % len(progressFrames)
		return m, tick()
	case iterMsg:
		m.last = &msg
		return m, nil
	case tea.QuitMsg:
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}
	spinner := styleTitle.Render(progressFrames[m.frame])
	if m.last == nil {
		return fmt.Sprintf("%s routing %s...\n", spinner, styleValue.Render(fmt.Sprintf("%d nets", m.nets)))
	}
	return fmt.Sprintf("%s iteration %s  overused %s  %s\n",
		spinner,
		styleValue.Render(fmt.Sprintf("%d/%d", m.last.itry, m.maxIters)),
		styleValue.Render(fmt.Sprintf("%d", m.last.overused)),
		styleDim.Render(m.last.elapsed.Round(time.Millisecond).String()))
}

// progressUI owns the running bubbletea program and the hook bridge that
// feeds it.
type progressUI struct {
	prog *tea.Program
	done chan struct{}
}

// startProgressUI launches the live view and registers router hooks that
// stream iteration results into it.
func startProgressUI(nets, maxIters int) *progressUI {
	ui := &progressUI{
		prog: tea.NewProgram(progressModel{nets: nets, maxIters: maxIters}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(ui.done)
		_, _ = ui.prog.Run()
	}()
	observability.SetRouterHooks(&progressHooks{ui: ui})
	return ui
}

// stop tears the view down; safe to call more than once.
func (ui *progressUI) stop() {
	observability.Reset()
	ui.prog.Quit()
	select {
	case <-ui.done:
	case <-time.After(time.Second):
	}
}

// progressHooks forwards router events to the progress model.
type progressHooks struct {
	observability.NoopRouterHooks
	ui *progressUI
}

func (h *progressHooks) OnIterationComplete(_ context.Context, itry, overused, _ int, elapsed time.Duration) {
	h.ui.prog.Send(iterMsg{itry: itry, overused: overused, elapsed: elapsed})
}
