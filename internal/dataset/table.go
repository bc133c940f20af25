package dataset

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownColumn    = errors.New("unknown column")
	ErrInsufficientRows = errors.New("not enough rows for window and horizon")
)

// Row is one 5-minute record of the feature-extracted table.
type Row struct {
	Time   time.Time
	Values []float64
}

// Table is an ordered, column-named time series.
type Table struct {
	Columns []string
	Rows    []Row
}

func NewTable(columns []string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

func (t *Table) Len() int { return len(t.Rows) }

// Append adds a row; values must line up with Columns.
func (t *Table) Append(ts time.Time, values []float64) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("row at %s has %d values, table has %d columns", ts.Format(time.RFC3339), len(values), len(t.Columns))
	}
	t.Rows = append(t.Rows, Row{Time: ts, Values: values})
	return nil
}

// Index returns the position of a named column.
func (t *Table) Index(name string) (int, error) {
	for i, c := range t.Columns {
		if c == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
}

func (t *Table) indices(names []string) ([]int, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		j, err := t.Index(name)
		if err != nil {
			return nil, err
		}
		idx[i] = j
	}
	return idx, nil
}

// Column copies out a single column.
func (t *Table) Column(name string) ([]float64, error) {
	j, err := t.Index(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Values[j]
	}
	return out, nil
}

// Times copies out the row timestamps.
func (t *Table) Times() []time.Time {
	out := make([]time.Time, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Time
	}
	return out
}
