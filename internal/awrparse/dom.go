package awrparse

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// document is a parsed HTML tree with the node lists the section parsers
// walk repeatedly.
type document struct {
	root   *html.Node
	tables []*html.Node
	// order holds every element in document order, for "next table after" lookups.
	order []*html.Node
}

func newDocument(root *html.Node) *document {
	d := &document{root: root}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			d.order = append(d.order, n)
			if n.DataAtom == atom.Table {
				d.tables = append(d.tables, n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return d
}

// textOf returns the element's text with whitespace collapsed.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// rowsOf returns the table's own rows, skipping rows of nested tables.
func rowsOf(table *html.Node) []*html.Node {
	var rows []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Tr:
				rows = append(rows, c)
			case atom.Table:
			default:
				walk(c)
			}
		}
	}
	walk(table)
	return rows
}

// cellsOf returns the text of each td/th in a row.
func cellsOf(row *html.Node) []string {
	var cells []string
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
			cells = append(cells, textOf(c))
		}
	}
	return cells
}

func ancestorTable(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == atom.Table {
			return p
		}
	}
	return nil
}

// nextTable returns the first table that starts after n in document order
// and is not n's own ancestor.
func (d *document) nextTable(n *html.Node) *html.Node {
	seen := false
	for _, e := range d.order {
		if e == n {
			seen = true
			continue
		}
		if seen && e.DataAtom == atom.Table && !contains(e, n) {
			return e
		}
	}
	return nil
}

func contains(outer, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == outer {
			return true
		}
	}
	return false
}

// findTable locates a section table by heading. It tries, in order: a table
// header cell containing the text, a named anchor followed by a table, a
// table summary attribute, and an h2/h3/b heading followed by a table.
func (d *document) findTable(heading string) *html.Node {
	want := strings.ToLower(heading)
	for _, e := range d.order {
		if e.DataAtom == atom.Th && strings.Contains(strings.ToLower(textOf(e)), want) {
			if t := ancestorTable(e); t != nil {
				return t
			}
		}
	}
	anchor := strings.ReplaceAll(want, " ", "")
	for _, e := range d.order {
		if e.DataAtom != atom.A {
			continue
		}
		if name, ok := attr(e, "name"); ok && strings.Contains(strings.ReplaceAll(strings.ToLower(name), " ", ""), anchor) {
			if t := d.nextTable(e); t != nil {
				return t
			}
		}
	}
	for _, t := range d.tables {
		if s, ok := attr(t, "summary"); ok && strings.Contains(strings.ToLower(s), want) {
			return t
		}
	}
	for _, e := range d.order {
		switch e.DataAtom {
		case atom.H2, atom.H3, atom.B:
			if strings.Contains(strings.ToLower(textOf(e)), want) {
				if t := d.nextTable(e); t != nil {
					return t
				}
			}
		}
	}
	return nil
}

// findFirstTable returns the table for the first heading that matches.
func (d *document) findFirstTable(headings ...string) *html.Node {
	for _, h := range headings {
		if t := d.findTable(h); t != nil {
			return t
		}
	}
	return nil
}

// grid returns the table as rows of cell text.
func grid(table *html.Node) [][]string {
	var out [][]string
	for _, r := range rowsOf(table) {
		if cells := cellsOf(r); len(cells) > 0 {
			out = append(out, cells)
		}
	}
	return out
}

func trimLabel(s string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ":"))
}
