package tui

import (
	"context"

	"github.com/charmbracelet/huh/spinner"
)

// Spin runs action behind a spinner when printing to a terminal, and
// directly otherwise.
func (p *Printer) Spin(ctx context.Context, title string, action func()) error {
	if !p.color {
		action()
		return nil
	}
	return spinner.New().Context(ctx).Title(title).Action(action).Run()
}
