package database

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"stock-lstm-research/internal/dataset"
)

// FeatureTable holds one row per instrument per 5-minute bar.
const FeatureTable = "feature_extracted_stock_trading_5min"

// Query selects a time range of one instrument. Both bounds are exclusive.
type Query struct {
	Code    string
	Start   time.Time
	End     time.Time
	Columns []string
}

func (q Query) Validate() error {
	if q.Code == "" {
		return fmt.Errorf("query needs an instrument code")
	}
	if len(q.Columns) == 0 {
		return fmt.Errorf("query needs at least one column")
	}
	if !q.End.After(q.Start) {
		return fmt.Errorf("query range %s..%s is empty", q.Start.Format(time.DateOnly), q.End.Format(time.DateOnly))
	}
	return nil
}

// buildFeatureQuery quotes the column names into the statement and leaves the
// code and range as parameters.
func buildFeatureQuery(table string, q Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	cols := make([]string, 0, len(q.Columns)+1)
	cols = append(cols, pgx.Identifier{"time"}.Sanitize())
	for _, c := range q.Columns {
		if c == "" {
			return "", nil, fmt.Errorf("empty column name")
		}
		cols = append(cols, pgx.Identifier{c}.Sanitize())
	}

	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE "code" = $1
			AND "time" > $2
			AND "time" < $3
		ORDER BY "time"`,
		strings.Join(cols, ", "),
		pgx.Identifier{table}.Sanitize(),
	)
	return sql, []any{q.Code, q.Start, q.End}, nil
}

// FeatureStore reads the feature-extracted table.
type FeatureStore struct {
	db    *PostgresDB
	Table string
}

func NewFeatureStore(db *PostgresDB) *FeatureStore {
	return &FeatureStore{db: db, Table: FeatureTable}
}

// Load returns the selected columns in time order. NULL cells become NaN.
func (s *FeatureStore) Load(ctx context.Context, q Query) (*dataset.Table, error) {
	sql, args, err := buildFeatureQuery(s.Table, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.Table, err)
	}
	defer rows.Close()
	return scanFeatures(rows, s.Table, q.Columns)
}

func scanFeatures(rows pgx.Rows, table string, columns []string) (*dataset.Table, error) {
	tbl := dataset.NewTable(columns)
	var ts time.Time
	cells := make([]*float64, len(columns))
	dest := make([]any, 0, len(cells)+1)
	dest = append(dest, &ts)
	for i := range cells {
		dest = append(dest, &cells[i])
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		values := make([]float64, len(cells))
		for i, c := range cells {
			if c == nil {
				values[i] = math.NaN()
				continue
			}
			values[i] = *c
		}
		if err := tbl.Append(ts, values); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	return tbl, nil
}
