package tui

import (
	"context"
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/psdweb/pipeline"
)

// ErrCanceled is returned when the user quits before the run finishes.
var ErrCanceled = errors.New("run canceled from the TUI")

// RunFunc executes a pipeline run reporting progress to observe.
type RunFunc func(ctx context.Context, observe pipeline.Observer) *pipeline.Outcome

// Run shows the live view while run executes and returns its outcome.
// Quitting the view cancels the run's context.
func Run(ctx context.Context, model Model, run RunFunc, out io.Writer) (*pipeline.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if out != nil {
		opts = append(opts, tea.WithOutput(out))
	}
	p := tea.NewProgram(model, opts...)

	done := make(chan *pipeline.Outcome, 1)
	go func() {
		outcome := run(ctx, func(pr pipeline.Progress) { p.Send(ProgressMsg(pr)) })
		done <- outcome
		p.Send(DoneMsg{Outcome: outcome})
	}()

	final, err := p.Run()
	cancel()
	outcome := <-done
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return outcome, err
	}
	if m, ok := final.(Model); ok && m.Canceled() {
		return outcome, ErrCanceled
	}
	return outcome, nil
}
