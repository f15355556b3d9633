package formatter

import (
	"io"
	"strings"
	"text/tabwriter"
)

// Table renders aligned columns for the table output format.
type Table struct {
	w        *tabwriter.Writer
	headers  []string
	maxWidth map[int]int // column index -> max width (0 = unlimited)
	rows     int
	err      error
}

// NewTable creates a table that writes to w with the given column headers.
// Nothing is written until the first row.
func NewTable(w io.Writer, headers ...string) *Table {
	return &Table{
		w:        tabwriter.NewWriter(w, 0, 0, 2, ' ', 0),
		headers:  headers,
		maxWidth: make(map[int]int),
	}
}

// SetMaxWidth caps a column (0-indexed); longer values end in "...".
func (t *Table) SetMaxWidth(col, width int) *Table {
	t.maxWidth[col] = width
	return t
}

// AddRow appends a row. Values beyond the header count are dropped and
// missing ones are blank.
func (t *Table) AddRow(values ...string) {
	if t.rows == 0 {
		t.line(t.headers)
		rule := make([]string, len(t.headers))
		for i, h := range t.headers {
			rule[i] = strings.Repeat("-", len(h))
		}
		t.line(rule)
	}
	t.rows++

	cells := make([]string, len(t.headers))
	for i := range cells {
		if i < len(values) {
			cells[i] = t.truncate(i, values[i])
		}
	}
	t.line(cells)
}

// Render flushes the table and reports the first write error.
func (t *Table) Render() error {
	if err := t.w.Flush(); err != nil && t.err == nil {
		t.err = err
	}
	return t.err
}

func (t *Table) line(cells []string) {
	if t.err != nil {
		return
	}
	_, t.err = io.WriteString(t.w, strings.Join(cells, "\t")+"\n")
}

func (t *Table) truncate(col int, s string) string {
	max, ok := t.maxWidth[col]
	if !ok || max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
