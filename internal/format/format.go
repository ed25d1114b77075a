// Package format renders reports, metrics and diagnostics as terminal or
// Markdown tables.
package format

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Mode controls the output format.
type Mode int

const (
	ASCII    Mode = iota // Fixed-width terminal tables
	Markdown             // GitHub-flavoured Markdown tables
)

func (m Mode) String() string {
	if m == Markdown {
		return "markdown"
	}
	return "table"
}

// ParseMode accepts "table" (or "ascii") and "markdown" (or "md").
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table", "ascii":
		return ASCII, nil
	case "markdown", "md":
		return Markdown, nil
	}
	return ASCII, fmt.Errorf("unknown output format %q (want table or markdown)", s)
}

// ColumnAlign specifies the horizontal alignment for a column.
type ColumnAlign int

const (
	AlignDefault ColumnAlign = iota
	AlignLeft
	AlignCenter
	AlignRight
)

// ColumnConfig controls per-column formatting.
type ColumnConfig struct {
	Number   int         // 1-based column index
	Align    ColumnAlign // horizontal alignment
	MaxWidth int         // wrap content beyond this width (0 = unlimited)
}

// TableBuilder builds a table once and renders it in the Mode chosen at
// creation.
type TableBuilder interface {
	Header(cols ...string)
	// Row appends a data row. Values are converted with fmt.Sprint.
	Row(vals ...any)
	// Footer appends a footer row, such as totals.
	Footer(vals ...any)
	Columns(cfgs ...ColumnConfig)
	// Title is rendered above ASCII tables and as a heading line in Markdown.
	Title(s string)
	String() string
}

// NewTable returns a TableBuilder that renders in the given Mode.
func NewTable(m Mode) TableBuilder {
	w := table.NewWriter()
	if m == ASCII {
		// Headers and footers keep their case; StyleLight upper-cases them.
		style := table.StyleLight
		style.Format.Header = text.FormatDefault
		style.Format.Footer = text.FormatDefault
		w.SetStyle(style)
	}
	return &prettyTable{writer: w, mode: m}
}

type prettyTable struct {
	writer table.Writer
	mode   Mode
	title  string
}

func (p *prettyTable) Header(cols ...string) {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	p.writer.AppendHeader(row)
}

func (p *prettyTable) Row(vals ...any) {
	p.writer.AppendRow(table.Row(append([]any(nil), vals...)))
}

func (p *prettyTable) Footer(vals ...any) {
	p.writer.AppendFooter(table.Row(append([]any(nil), vals...)))
}

func (p *prettyTable) Columns(cfgs ...ColumnConfig) {
	out := make([]table.ColumnConfig, len(cfgs))
	for i, c := range cfgs {
		out[i] = table.ColumnConfig{
			Number:   c.Number,
			Align:    toTextAlign(c.Align),
			WidthMax: c.MaxWidth,
		}
	}
	p.writer.SetColumnConfigs(out)
}

func (p *prettyTable) Title(s string) { p.title = s }

func (p *prettyTable) String() string {
	if p.mode == Markdown {
		body := p.writer.RenderMarkdown()
		if p.title != "" {
			return "### " + p.title + "\n\n" + body
		}
		return body
	}
	if p.title != "" {
		p.writer.SetTitle(p.title)
	}
	return p.writer.Render()
}

func toTextAlign(a ColumnAlign) text.Align {
	switch a {
	case AlignLeft:
		return text.AlignLeft
	case AlignRight:
		return text.AlignRight
	case AlignCenter:
		return text.AlignCenter
	default:
		return text.AlignDefault
	}
}
