package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	tableBorderColor = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"}
	tableBorderStyle = lipgloss.NewStyle().Foreground(tableBorderColor)
)

// Table prints rows under headers. Without color the rows are tab separated.
func (p *Printer) Table(headers []string, rows [][]string) {
	if !p.color {
		for _, row := range append([][]string{headers}, rows...) {
			for i, cell := range row {
				if i > 0 {
					fmt.Fprint(p.out, "\t")
				}
				fmt.Fprint(p.out, cell)
			}
			fmt.Fprintln(p.out)
		}
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorderStyle).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(p.out, t.String())
}
