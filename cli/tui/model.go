package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/psdweb/pipeline"
)

// ProgressMsg carries one pipeline progress update.
type ProgressMsg pipeline.Progress

// DoneMsg carries the finished run.
type DoneMsg struct {
	Outcome *pipeline.Outcome
}

// stages lists the checklist rows in order.
var stages = []pipeline.State{
	pipeline.StateUploading,
	pipeline.StateParsing,
	pipeline.StateConverting,
	pipeline.StateValidating,
}

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "cancel"),
	),
}

// Model is the Bubble Tea model of one run.
type Model struct {
	fileName string
	validate bool

	bar     progress.Model
	stage   pipeline.State
	percent int
	message string
	reached map[pipeline.State]bool
	failed  pipeline.State

	outcome  *pipeline.Outcome
	canceled bool
}

// NewModel creates a model for a run over fileName. validate controls
// whether the validating row is shown.
func NewModel(fileName string, validate bool) Model {
	return Model{
		fileName: fileName,
		validate: validate,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		stage:    pipeline.StateIdle,
		reached:  make(map[pipeline.State]bool),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(min(msg.Width-20, 60), 10)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) && m.outcome == nil {
			m.canceled = true
			return m, tea.Quit
		}

	case ProgressMsg:
		p := pipeline.Progress(msg)
		if p.Stage == pipeline.StateErrored {
			m.failed = m.stage
		} else {
			m.stage = p.Stage
			m.reached[p.Stage] = true
		}
		m.percent = max(m.percent, p.Percent)
		m.message = p.Message
		return m, nil

	case DoneMsg:
		m.outcome = msg.Outcome
		if msg.Outcome != nil && msg.Outcome.State == pipeline.StateComplete {
			m.percent = pipeline.PercentDone
		}
		return m, tea.Quit
	}
	return m, nil
}

// Percent returns the highest percentage seen.
func (m Model) Percent() int { return m.percent }

// Outcome returns the finished run, or nil while running.
func (m Model) Outcome() *pipeline.Outcome { return m.outcome }

// Canceled reports whether the user quit before the run finished.
func (m Model) Canceled() bool { return m.canceled }

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("psdweb · " + m.fileName))
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(float64(m.percent) / 100))
	b.WriteString("\n\n")

	for _, s := range stages {
		if s == pipeline.StateValidating && !m.validate {
			continue
		}
		b.WriteString(m.stageLine(s))
		b.WriteString("\n")
	}

	if m.message != "" {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("status") + m.message)
		b.WriteString("\n")
	}
	if m.outcome != nil {
		b.WriteString("\n")
		b.WriteString(summary(m.outcome))
		b.WriteString("\n")
	} else {
		b.WriteString("\n")
		b.WriteString(MutedStyle.Render("Press q or Ctrl+C to cancel"))
	}
	return BoxStyle.Render(b.String())
}

func (m Model) stageLine(s pipeline.State) string {
	label := LabelStyle.Render(string(s))
	switch {
	case m.failed == s:
		return label + ErrorStyle.Render("✗ failed")
	case m.reached[s] && m.stage != s:
		return label + SuccessStyle.Render("✓ done")
	case m.stage == s && m.failed == "":
		return label + WarningStyle.Render("… running")
	case m.reached[s]:
		return label + MutedStyle.Render("stopped")
	default:
		return label + MutedStyle.Render("pending")
	}
}

func summary(out *pipeline.Outcome) string {
	if out.Err != nil {
		return ErrorStyle.Render("error: " + out.Err.Error())
	}
	line := SuccessStyle.Render(fmt.Sprintf("complete in %s", out.Duration.Round(time.Millisecond)))
	if out.Validation != nil {
		line += fmt.Sprintf("  similarity %.1f%%", out.Validation.Similarity*100)
	} else if out.ValidationErr != nil {
		line += WarningStyle.Render("  validation unavailable")
	}
	return line
}
