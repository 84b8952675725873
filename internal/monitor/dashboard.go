// Package monitor is the terminal dashboard for a running shipd
// daemon. It polls the daemon API for recent pipeline runs and the
// docs alias table and renders them with bubbletea.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxRunRows      = 6
)

// Model is the bubbletea dashboard model.
type Model struct {
	apiURL     string
	interval   time.Duration
	lastUpdate time.Time
	snapshot   Snapshot
	err        error
	quitting   bool

	successProgress progress.Model
}

// Snapshot is one poll of the daemon, with the aggregates the
// dashboard renders.
type Snapshot struct {
	Ready   bool
	Runs    []*pipeline.Run
	Aliases map[string]string

	Succeeded int
	Failed    int
	Skipped   int
	Cancelled int
	Running   int

	// SuccessRate covers completed runs only; 0 when nothing has
	// finished yet.
	SuccessRate float64

	// SuccessRateHistory holds percentage points, one per poll.
	SuccessRateHistory []float64

	// DurationHistory holds completed run durations in seconds,
	// oldest first.
	DurationHistory []float64
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard model polling the daemon at apiURL.
func NewModel(apiURL string, interval time.Duration) Model {
	successProg := progress.New(
		progress.WithGradient("#ff0000", "#00ff00"),
		progress.WithWidth(40),
	)

	return Model{
		apiURL:          apiURL,
		interval:        interval,
		successProgress: successProg,
		snapshot: Snapshot{
			SuccessRateHistory: make([]float64, 0, historySize),
		},
	}
}

// buildSnapshot derives the dashboard aggregates from one poll.
func buildSnapshot(ready bool, runs []*pipeline.Run, aliases map[string]string) Snapshot {
	snap := Snapshot{
		Ready:   ready,
		Runs:    runs,
		Aliases: aliases,
	}

	completed := 0
	for _, run := range runs {
		switch run.Status {
		case pipeline.StatusSuccess:
			snap.Succeeded++
		case pipeline.StatusFailure:
			snap.Failed++
		case pipeline.StatusSkipped:
			snap.Skipped++
		case pipeline.StatusCancelled:
			snap.Cancelled++
		default:
			snap.Running++
		}
		if !run.EndedAt.IsZero() {
			completed++
		}
	}

	if completed > 0 {
		snap.SuccessRate = float64(snap.Succeeded) / float64(completed)
	}

	// Runs arrive newest first; the sparkline reads oldest first.
	for i := len(runs) - 1; i >= 0; i-- {
		run := runs[i]
		if run.EndedAt.IsZero() {
			continue
		}
		snap.DurationHistory = append(snap.DurationHistory, run.EndedAt.Sub(run.StartedAt).Seconds())
	}

	return snap
}

// runBadge returns a colored status glyph for a run or stage status.
func runBadge(status pipeline.Status) string {
	switch status {
	case pipeline.StatusSuccess:
		return healthyStyle.Render("✓")
	case pipeline.StatusFailure:
		return errorStyle.Render("✗")
	case pipeline.StatusCancelled:
		return warningStyle.Render("~")
	case pipeline.StatusSkipped:
		return dimStyle.Render("○")
	default:
		return warningStyle.Render("…")
	}
}

// statusBadge returns the daemon status badge for the header.
func statusBadge(ready bool) string {
	if ready {
		return healthyStyle.Render("✓ READY")
	}
	return warningStyle.Render("⚠ DRAINING")
}

// stageGlyphs renders the planned stages of a run with one glyph per
// recorded result; unrecorded stages show as pending.
func stageGlyphs(run *pipeline.Run) string {
	var out string
	for i, stage := range run.Plan.Stages {
		if i > 0 {
			out += " "
		}
		glyph := dimStyle.Render("·")
		if res, ok := run.Result(stage); ok {
			glyph = runBadge(res.Status)
		}
		out += labelStyle.Render(string(stage)) + glyph
	}
	return out
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchSnapshot(m.apiURL),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSnapshot polls the daemon. Liveness failures surface as the
// error view; a missing alias store or a draining dispatcher degrade
// gracefully.
func fetchSnapshot(apiURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client := NewClient(apiURL)

		if _, err := client.Health(ctx); err != nil {
			return errMsg(err)
		}

		ready, err := client.Ready(ctx)
		if err != nil {
			ready = false
		}

		runs, err := client.Runs(ctx, historySize)
		if err != nil {
			return errMsg(err)
		}

		aliases, err := client.Aliases(ctx)
		if err != nil {
			// Alias store not configured; the section renders empty.
			aliases = nil
		}

		return snapshotMsg(buildSnapshot(ready, runs, aliases))
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot(m.apiURL)
		}

	case tickMsg:
		// Auto-refresh triggered
		return m, tea.Batch(
			tick(m.interval),
			fetchSnapshot(m.apiURL),
		)

	case snapshotMsg:
		snap := Snapshot(msg)
		snap.SuccessRateHistory = appendToHistory(m.snapshot.SuccessRateHistory, snap.SuccessRate*100)
		m.snapshot = snap
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.err != nil {
		return m.renderError()
	}

	return m.renderDashboard()
}

// renderError renders the error view
func (m Model) renderError() string {
	header := headerStyle.Render(" shipd Monitor ")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach the shipd daemon") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.apiURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Please ensure:") + "\n"
	content += dimStyle.Render("  1. the daemon is running (shipd --config shipd.yaml)") + "\n"
	content += dimStyle.Render("  2. the API address matches the daemon's listen_addr") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

// renderDashboard renders the main dashboard view
func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	header := headerStyle.Render(" shipd Monitor ")
	headerLine := fmt.Sprintf("%s   %s %s   %s",
		statusBadge(m.snapshot.Ready),
		dimStyle.Render("Runs:"),
		valueStyle.Render(fmt.Sprintf("%d", len(m.snapshot.Runs))),
		dimStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"

	// Pipeline runs section
	content += "\n" + sectionStyle.Render("┃ Pipeline Runs") + "\n"

	counts := fmt.Sprintf("%s %s   %s %s   %s %s   %s %s",
		healthyStyle.Render("✓"), valueStyle.Render(fmt.Sprintf("%d", m.snapshot.Succeeded)),
		errorStyle.Render("✗"), valueStyle.Render(fmt.Sprintf("%d", m.snapshot.Failed)),
		dimStyle.Render("○"), valueStyle.Render(fmt.Sprintf("%d", m.snapshot.Skipped)),
		warningStyle.Render("…"), valueStyle.Render(fmt.Sprintf("%d", m.snapshot.Running)))
	content += "  " + counts + "\n"

	rateSparkline := createSparkline(m.snapshot.SuccessRateHistory)
	content += labelStyle.Render("  Success: ") +
		m.successProgress.ViewAs(m.snapshot.SuccessRate) +
		" " + dimStyle.Render(FormatPercent(m.snapshot.SuccessRate)) +
		"   " + rateSparkline + "\n"

	durationSparkline := createSparkline(m.snapshot.DurationHistory)
	content += labelStyle.Render("  Durations: ") + durationSparkline + "\n"

	content += m.renderRunRows()

	// Docs aliases section
	content += "\n" + sectionStyle.Render("┃ Docs Aliases") + "\n"
	content += m.renderAliases()

	// Footer with keyboard shortcuts
	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	return containerStyle.Render(content)
}

// renderRunRows renders the most recent runs, one line each.
func (m Model) renderRunRows() string {
	if len(m.snapshot.Runs) == 0 {
		return "\n" + dimStyle.Render("  no runs yet") + "\n"
	}

	rows := m.snapshot.Runs
	if len(rows) > maxRunRows {
		rows = rows[:maxRunRows]
	}

	var content string
	content += "\n"
	for _, run := range rows {
		elapsed := ""
		if run.EndedAt.IsZero() {
			elapsed = dimStyle.Render("running " + FormatAge(run.StartedAt, time.Now()))
		} else {
			elapsed = dimStyle.Render(FormatRunDuration(run.EndedAt.Sub(run.StartedAt)))
		}

		content += fmt.Sprintf("  %s %s %s  %s  %s\n",
			runBadge(run.Status),
			valueStyle.Render(shortID(run.ID)),
			dimStyle.Render(string(run.Event.Kind)),
			stageGlyphs(run),
			elapsed)
	}
	return content
}

// renderAliases renders the docs alias table sorted by alias name.
func (m Model) renderAliases() string {
	if len(m.snapshot.Aliases) == 0 {
		return dimStyle.Render("  no aliases deployed") + "\n"
	}

	names := make([]string, 0, len(m.snapshot.Aliases))
	for name := range m.snapshot.Aliases {
		names = append(names, name)
	}
	sort.Strings(names)

	var content string
	for _, name := range names {
		content += labelStyle.Render("  "+name) +
			dimStyle.Render(" → ") +
			valueStyle.Render(m.snapshot.Aliases[name]) + "\n"
	}
	return content
}

// shortID truncates long run IDs so rows stay on one line.
func shortID(id string) string {
	const max = 36
	if len(id) <= max {
		return id
	}
	return id[:max-3] + "..."
}
