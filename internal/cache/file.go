package cache

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"

	"stock-lstm-research/internal/dataset"
)

// resultRow is one line of the target table file.
type resultRow struct {
	Value float64 `csv:"value"`
	Time  string  `csv:"time"`
}

// FileCache keeps the flattened window array and the target table as two
// CSV files per key under Dir.
type FileCache struct {
	Dir string
}

func NewFileCache(dir string) *FileCache {
	return &FileCache{Dir: dir}
}

func (c *FileCache) DatasetPath(key Key) string {
	return filepath.Join(c.Dir, "dataset-"+key.String()+".csv")
}

func (c *FileCache) ResultPath(key Key) string {
	return filepath.Join(c.Dir, "result-"+key.String()+".csv")
}

// Exists reports whether both files for key are present.
func (c *FileCache) Exists(key Key) bool {
	for _, p := range []string{c.DatasetPath(key), c.ResultPath(key)} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (c *FileCache) Load(ctx context.Context, key Key, params dataset.WindowParams) (*dataset.Windowed, error) {
	if !c.Exists(key) {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}

	x, err := readDataset(c.DatasetPath(key), params.Timesteps, len(params.Features))
	if err != nil {
		return nil, err
	}
	y, err := readResult(c.ResultPath(key))
	if err != nil {
		return nil, err
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: %d samples but %d targets", ErrShapeMismatch, len(x), len(y))
	}
	return &dataset.Windowed{Params: params, X: x, Y: y}, nil
}

func (c *FileCache) Save(ctx context.Context, key Key, w *dataset.Windowed) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := writeAtomic(c.DatasetPath(key), func(f *os.File) error {
		return writeDataset(f, w.X)
	}); err != nil {
		return err
	}
	return writeAtomic(c.ResultPath(key), func(f *os.File) error {
		rows := make([]resultRow, len(w.Y))
		for i, y := range w.Y {
			rows[i] = resultRow{Value: y.Value, Time: y.Time.UTC().Format(time.RFC3339)}
		}
		return gocsv.MarshalFile(&rows, f)
	})
}

func writeAtomic(path string, fill func(f *os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// writeDataset flattens each sample row-major: step 0 features, step 1 ...
func writeDataset(w io.Writer, x [][][]float64) error {
	cw := csv.NewWriter(w)
	width := 0
	if len(x) > 0 && len(x[0]) > 0 {
		width = len(x[0]) * len(x[0][0])
	}
	header := make([]string, width)
	for i := range header {
		header[i] = strconv.Itoa(i)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, width)
	for _, sample := range x {
		k := 0
		for _, step := range sample {
			for _, v := range step {
				record[k] = strconv.FormatFloat(v, 'g', -1, 64)
				k++
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func readDataset(path string, timesteps, features int) ([][][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s has no header", ErrShapeMismatch, path)
	}
	width := timesteps * features
	if len(records[0]) != width {
		return nil, fmt.Errorf("%w: %s has %d columns, want %d", ErrShapeMismatch, path, len(records[0]), width)
	}

	out := make([][][]float64, 0, len(records)-1)
	for line, rec := range records[1:] {
		sample := make([][]float64, timesteps)
		for s := 0; s < timesteps; s++ {
			step := make([]float64, features)
			for k := 0; k < features; k++ {
				v, err := strconv.ParseFloat(rec[s*features+k], 64)
				if err != nil {
					return nil, fmt.Errorf("%s line %d: %w", path, line+2, err)
				}
				step[k] = v
			}
			sample[s] = step
		}
		out = append(out, sample)
	}
	return out, nil
}

func readResult(path string) ([]dataset.Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []resultRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	out := make([]dataset.Target, len(rows))
	for i, r := range rows {
		ts, err := time.Parse(time.RFC3339, r.Time)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		out[i] = dataset.Target{Value: r.Value, Time: ts}
	}
	return out, nil
}
