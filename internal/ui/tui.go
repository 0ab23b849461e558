package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// quitTimeout bounds how long Stop waits for the program to exit.
const quitTimeout = 2 * time.Second

// TUIRenderer draws a live bubbletea view of a sync.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	tracker *Tracker
	model   *syncModel
	program *tea.Program
	done    chan struct{}
}

var _ Renderer = (*TUIRenderer)(nil)

// NewTUIRenderer fails when the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errors.New("output is not a terminal")
	}
	tracker := NewTracker()
	styles := DefaultStyles()
	if cfg.NoColor || DetectNoColor() {
		styles = NoColorStyles()
	}
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   newSyncModel(tracker, styles, cfg.ProjectDir),
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(ev ProgressEvent) {
	r.tracker.Apply(ev)
	r.send(refreshMsg{})
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(ev ErrorEvent) {
	r.tracker.Problem(ev)
	r.send(refreshMsg{})
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.Apply(ProgressEvent{Stage: StageComplete})
	r.send(completeMsg(stats))
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p == nil {
		return nil
	}
	p.Quit()
	select {
	case <-r.done:
	case <-time.After(quitTimeout):
	}
	return nil
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

type (
	refreshMsg  struct{}
	completeMsg CompletionStats
	tickMsg     time.Time
)

// syncModel is the bubbletea model. All counters live in the tracker.
type syncModel struct {
	tracker  *Tracker
	styles   Styles
	title    string
	spinner  spinner.Model
	bar      progress.Model
	width    int
	done     *CompletionStats
	quitting bool
}

func newSyncModel(tracker *Tracker, styles Styles, projectDir string) *syncModel {
	sp := spinner.New(spinner.WithSpinner(spinner.MiniDot))
	sp.Style = styles.Active

	title := "vgrep index"
	if projectDir != "" {
		title += " " + projectDir
	}
	return &syncModel{
		tracker: tracker,
		styles:  styles,
		title:   title,
		spinner: sp,
		bar:     progress.New(progress.WithSolidFill(ColorAccent), progress.WithoutPercentage(), progress.WithWidth(40)),
		width:   80,
	}
}

func (m *syncModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *syncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(20, min(60, msg.Width-30))
	case completeMsg:
		stats := CompletionStats(msg)
		m.done = &stats
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *syncModel) View() string {
	if m.quitting {
		return "Interrupted.\n"
	}
	if m.done != nil {
		return m.summary(*m.done)
	}

	snap := m.tracker.Snapshot()
	lines := []string{
		m.styles.Header.Render(m.title),
		m.stages(snap.Stage),
		m.progressLine(snap),
	}
	if snap.Rate > 0 {
		line := fmt.Sprintf("%.0f/s  peak %.0f/s", snap.Rate, snap.Peak)
		if snap.ETA > 0 {
			line += "  eta " + snap.ETA.Round(time.Second).String()
		}
		lines = append(lines, m.styles.Label.Render(line)+"  "+m.styles.Active.Render(m.tracker.Sparkline(20)))
	}
	if snap.CurrentFile != "" {
		lines = append(lines, m.styles.Dim.Render(shortenPath(snap.CurrentFile, max(20, m.width-4))))
	}
	if snap.Warnings+snap.Errors > 0 {
		lines = append(lines, m.problems(snap.Warnings, snap.Errors))
	}
	return strings.Join(lines, "\n") + "\n"
}

var pipeline = []Stage{StageScanning, StageEmbedding, StageIndexing, StagePublishing}

func (m *syncModel) stages(current Stage) string {
	parts := make([]string, len(pipeline))
	for i, s := range pipeline {
		switch {
		case s < current:
			parts[i] = m.styles.Success.Render("✓ " + s.String())
		case s == current:
			parts[i] = m.styles.Active.Render(m.spinner.View() + " " + s.String())
		default:
			parts[i] = m.styles.Dim.Render("· " + s.String())
		}
	}
	return strings.Join(parts, m.styles.Dim.Render("  "))
}

func (m *syncModel) progressLine(s Snapshot) string {
	if s.Total == 0 {
		return m.styles.Label.Render(s.Stage.String() + "...")
	}
	return fmt.Sprintf("%s %3.0f%%  %s",
		m.bar.ViewAs(s.Fraction), s.Fraction*100,
		m.styles.Label.Render(fmt.Sprintf("%d/%d", s.Current, s.Total)))
}

func (m *syncModel) problems(warnings, errs int) string {
	var parts []string
	if warnings > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("%d skipped", warnings)))
	}
	if errs > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("%d errors", errs)))
	}
	return strings.Join(parts, "  ")
}

func (m *syncModel) summary(s CompletionStats) string {
	head := m.styles.Success.Render(fmt.Sprintf("✓ Published generation %d", s.Generation))
	if !s.Published {
		head = m.styles.Success.Render("✓ Index is up to date")
	}
	lines := []string{
		head,
		fmt.Sprintf("%s %s   %s %s",
			m.styles.Label.Render("files"), humanize.Comma(int64(s.Files())),
			m.styles.Label.Render("fragments"), humanize.Comma(int64(s.Fragments))),
	}
	if s.Published {
		lines = append(lines, fmt.Sprintf("+%d ~%d -%d  in %s",
			s.Added, s.Modified, s.Removed, s.Duration.Round(time.Millisecond)))
	}
	if s.Skipped > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("%d files skipped", s.Skipped)))
	}
	if s.Embedder.Model != "" {
		lines = append(lines, m.styles.Dim.Render(fmt.Sprintf("%s, %d dims", s.Embedder.Model, s.Embedder.Dimensions)))
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1)
	return box.Render(strings.Join(lines, "\n")) + "\n"
}

// shortenPath keeps the tail of p within limit bytes.
func shortenPath(p string, limit int) string {
	if len(p) <= limit {
		return p
	}
	if limit <= 3 {
		return "..."
	}
	tail := p[len(p)-(limit-3):]
	if i := strings.IndexByte(tail, '/'); i >= 0 && i < len(tail)-1 {
		tail = tail[i:]
	}
	return "..." + tail
}
