// Package console renders the human readable parts of the command line
// output: the start banner, step lines, the final marker and snapshot
// listings.
package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Field is one labelled banner row.
type Field struct {
	Label string
	Value string
}

// Printer writes styled output to one writer.
type Printer struct {
	w      io.Writer
	styles styles
}

// New returns a Printer whose color profile is detected from w. Writers
// that are not terminals get plain text.
func New(w io.Writer) *Printer {
	return &Printer{w: w, styles: newStyles(lipgloss.NewRenderer(w))}
}

// Banner prints a boxed title with labelled fields.
func (p *Printer) Banner(title string, fields ...Field) {
	lines := []string{p.styles.title.Render(title)}
	for _, f := range fields {
		lines = append(lines, p.styles.label.Render(f.Label+":")+p.styles.value.Render(f.Value))
	}
	fmt.Fprintln(p.w, p.styles.box.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
}

// Step prints a progress line.
func (p *Printer) Step(msg string) {
	fmt.Fprintln(p.w, p.styles.step.Render(iconArrow)+" "+msg)
}

// Warn prints a highlighted warning line.
func (p *Printer) Warn(msg string) {
	fmt.Fprintln(p.w, p.styles.warning.Render(iconWarn+" "+msg))
}

// Success prints the final success marker.
func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.w, p.styles.success.Render(iconSuccess+" "+msg))
}

// Failure prints the final failure marker.
func (p *Printer) Failure(msg string) {
	fmt.Fprintln(p.w, p.styles.failure.Render(iconError+" "+msg))
}

// Table prints rows under a header. Columns are padded to the widest cell.
func (p *Printer) Table(header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	format := func(cells []string) string {
		padded := make([]string, len(cells))
		for i, cell := range cells {
			padded[i] = cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
		}
		return strings.TrimRight(strings.Join(padded, "  "), " ")
	}

	fmt.Fprintln(p.w, p.styles.header.Render(format(header)))
	if len(rows) == 0 {
		fmt.Fprintln(p.w, p.styles.dim.Render("(none)"))
		return
	}
	for _, row := range rows {
		fmt.Fprintln(p.w, format(row))
	}
}
