package tui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

var (
	HasTTY = isatty.IsTerminal(os.Stdout.Fd())
)

// Printer writes command output. Styles are only applied when color is set,
// so output piped to a file or captured in tests stays plain.
type Printer struct {
	out   io.Writer
	color bool
}

// NewPrinter returns a Printer for out. Color is enabled when out is a terminal.
func NewPrinter(out io.Writer) *Printer {
	color := false
	if f, ok := out.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd())
	}
	return &Printer{out: out, color: color}
}

// Plain returns a Printer that never styles its output.
func Plain(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) Writer() io.Writer {
	return p.out
}
