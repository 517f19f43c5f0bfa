// Package resample aligns raw station samples onto a fixed time grid and
// fills gaps per field policy.
package resample

import (
	"slices"
	"time"

	"gonum.org/v1/gonum/interp"

	"github.com/angas/meteolog-go/grid"
	"github.com/angas/meteolog-go/schema"
	"github.com/angas/meteolog-go/types"
	"github.com/angas/meteolog-go/types/maybe"
)

// Series is the gridded view of one provider's window: one row per bucket
// start, cells keyed by canonical field name. Fields lists the columns in
// archive order (known vocabulary first, passthrough after in first-seen
// order).
type Series struct {
	Interval time.Duration
	Fields   []string
	Rows     []Row
}

type Row struct {
	Timestamp time.Time
	Cells     map[string]maybe.Maybe[float64]
}

func (s Series) Empty() bool {
	return len(s.Rows) == 0
}

// Resample puts samples on the bucket grid. The grid runs from the bucket of
// the earliest sample to the bucket of the latest, one row per bucket even
// when nothing falls inside. Within a bucket the earliest observation per
// field wins. Gaps are then filled per schema policy: linear interpolation
// strictly between the first and last known value, forward fill from the
// first known value on, or left empty. Fields never observed produce no
// column. No samples produce an empty series.
func Resample(samples []types.RawSample, interval time.Duration) Series {
	series := Series{Interval: interval}
	if len(samples) == 0 {
		return series
	}

	sorted := make([]types.RawSample, len(samples))
	copy(sorted, samples)
	slices.SortStableFunc(sorted, func(a, b types.RawSample) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	first := grid.Floor(sorted[0].Timestamp, interval)
	last := grid.Floor(sorted[len(sorted)-1].Timestamp, interval)
	stamps := grid.Sequence(first, last, interval)

	rowIndex := make(map[int64]int, len(stamps))
	for i, ts := range stamps {
		rowIndex[ts.UnixNano()] = i
	}

	columns := make(map[string][]maybe.Maybe[float64])
	var seen []string
	for _, sample := range sorted {
		row := rowIndex[grid.Floor(sample.Timestamp, interval).UnixNano()]
		names := make([]string, 0, len(sample.Fields))
		for name := range sample.Fields {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			column, ok := columns[name]
			if !ok {
				column = make([]maybe.Maybe[float64], len(stamps))
				columns[name] = column
				seen = append(seen, name)
			}
			if !column[row].IsValid() {
				column[row] = maybe.Some(sample.Fields[name])
			}
		}
	}

	for name, column := range columns {
		switch schema.Lookup(name).Fill {
		case schema.FillInterpolate:
			interpolateColumn(stamps, column)
		case schema.FillForward:
			forwardFillColumn(column)
		}
	}

	fields := make([]string, len(seen))
	copy(fields, seen)
	slices.SortStableFunc(fields, func(a, b string) int {
		return schema.Index(a) - schema.Index(b)
	})

	rows := make([]Row, len(stamps))
	for i, ts := range stamps {
		cells := make(map[string]maybe.Maybe[float64], len(fields))
		for _, name := range fields {
			cells[name] = columns[name][i]
		}
		rows[i] = Row{Timestamp: ts, Cells: cells}
	}

	series.Fields = fields
	series.Rows = rows
	return series
}

// interpolateColumn fills gaps between known values linearly. Buckets before
// the first or after the last known value stay empty, and a column with a
// single known value is left alone.
func interpolateColumn(stamps []time.Time, column []maybe.Maybe[float64]) {
	var xs, ys []float64
	for i, cell := range column {
		if cell.IsValid() {
			xs = append(xs, float64(stamps[i].Unix()))
			ys = append(ys, cell.Value())
		}
	}
	if len(xs) < 2 {
		return
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return
	}

	lo, hi := xs[0], xs[len(xs)-1]
	for i := range column {
		if column[i].IsValid() {
			continue
		}
		x := float64(stamps[i].Unix())
		if x < lo || x > hi {
			continue
		}
		column[i] = maybe.Some(pl.Predict(x))
	}
}

func forwardFillColumn(column []maybe.Maybe[float64]) {
	last := maybe.None[float64]()
	for i := range column {
		if column[i].IsValid() {
			last = column[i]
		} else if last.IsValid() {
			column[i] = last
		}
	}
}
