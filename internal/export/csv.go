package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kjannette/freq-response-backend/internal/models"
	"github.com/kjannette/freq-response-backend/internal/power"
)

// IntervalLayout is how interval starts are written to the CSV.
const IntervalLayout = "2006-01-02 15:04:05"

var (
	ErrPersist = errors.New("persist aggregates")
	header     = []string{"Interval", "Average Power"}
)

type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to save data to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersist }

// FormatPower renders v with the fewest digits that round-trip.
func FormatPower(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCSV replaces path with one row per interval in result order.
func WriteCSV(path string, res *power.Result) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &PersistenceError{Path: path, Err: cerr}
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	for _, iv := range res.Intervals() {
		row := []string{iv.Interval.UTC().Format(IntervalLayout), FormatPower(iv.AveragePower)}
		if err := w.Write(row); err != nil {
			return &PersistenceError{Path: path, Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}

// ReadCSV loads a file written by WriteCSV. Sample counts are not stored
// in the file and come back as zero.
func ReadCSV(path string) ([]models.IntervalAverage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 || len(records[0]) != 2 || records[0][0] != header[0] || records[0][1] != header[1] {
		return nil, fmt.Errorf("read %s: missing header", path)
	}

	out := make([]models.IntervalAverage, 0, len(records)-1)
	for i, rec := range records[1:] {
		ts, err := time.Parse(IntervalLayout, rec[0])
		if err != nil {
			return nil, fmt.Errorf("read %s: row %d: %w", path, i+2, err)
		}
		v, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("read %s: row %d: %w", path, i+2, err)
		}
		out = append(out, models.IntervalAverage{Interval: ts, AveragePower: v})
	}
	return out, nil
}
