package tui

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/cockroachdb/errors"
)

var (
	messageOKColor      = lipgloss.AdaptiveColor{Light: "#009900", Dark: "#00FF00"}
	messageOKStyle      = lipgloss.NewStyle().Foreground(messageOKColor)
	messageTextColor    = lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}
	messageTextStyle    = lipgloss.NewStyle().Foreground(messageTextColor)
	messageWarningColor = lipgloss.AdaptiveColor{Light: "#990000", Dark: "#FF0000"}
	messageWarningStyle = lipgloss.NewStyle().Foreground(messageWarningColor)
	mutedColor          = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}
	mutedStyle          = lipgloss.NewStyle().Foreground(mutedColor)
)

// ErrNotInteractive is returned by Confirm when there is no terminal to ask on.
var ErrNotInteractive = errors.New("confirmation requires a terminal")

func (p *Printer) render(style lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return style.Render(text)
}

func (p *Printer) Success(msg string, args ...any) {
	fmt.Fprintln(p.out, p.render(messageOKStyle, " ✓ ")+p.render(messageTextStyle, fmt.Sprintf(msg, args...)))
}

func (p *Printer) Warning(msg string, args ...any) {
	fmt.Fprintln(p.out, p.render(messageWarningStyle, " ✕ ")+p.render(messageTextStyle, fmt.Sprintf(msg, args...)))
}

func (p *Printer) Error(msg string, args ...any) {
	fmt.Fprintln(p.out, p.render(messageWarningStyle, " ⚠ ")+p.render(messageTextStyle, fmt.Sprintf(msg, args...)))
}

// Muted prints secondary information such as empty results.
func (p *Printer) Muted(msg string, args ...any) {
	fmt.Fprintln(p.out, p.render(mutedStyle, fmt.Sprintf(msg, args...)))
}

// Confirm asks a yes/no question on the terminal.
func (p *Printer) Confirm(title string, defaultValue bool) (bool, error) {
	if !HasTTY {
		return false, ErrNotInteractive
	}
	confirm := defaultValue
	if err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes!").
		Negative("No").
		Value(&confirm).
		Inline(false).
		Run(); err != nil {
		return false, err
	}
	return confirm, nil
}
