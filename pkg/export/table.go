package export

import "fmt"

// Placeholder is rendered for values that have not been recorded yet.
const Placeholder = "—"

// Table is an ordered tabular document. Every row must have one cell per header.
type Table struct {
	Title    string
	Subtitle string
	Headers  []string
	Rows     [][]string
}

func (t Table) validate() error {
	if len(t.Headers) == 0 {
		return fmt.Errorf("table requires at least one header")
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Headers) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(t.Headers))
		}
	}
	return nil
}
