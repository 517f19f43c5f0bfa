// Package archive persists resampled series as CSV period files, one
// directory per station: a weekly and a monthly file per period plus a
// latest.csv mirror of the current weekly file.
package archive

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/angas/meteolog-go/grid"
	"github.com/angas/meteolog-go/resample"
)

// WriteError wraps any filesystem or codec failure while merging. It aborts
// the affected provider's run only.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("archive %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

type MergeStats struct {
	File      string
	NewRows   int
	TotalRows int
}

// MergeOutcome reports both period files touched by one merge. The weekly
// numbers are the canonical ones for run accounting, latest.csv mirrors the
// weekly file exactly.
type MergeOutcome struct {
	Weekly  MergeStats
	Monthly MergeStats
}

// Store is the archive directory of a single station.
type Store struct {
	logger *slog.Logger
	dir    string
}

func NewStore(logger *slog.Logger, dir string) *Store {
	return &Store{logger: logger, dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// Merge folds a series into the weekly and monthly files of runTime's
// period and refreshes latest.csv. Rows are keyed by timestamp and the
// first write wins: existing rows are never modified, re-merging the same
// data rewrites each file byte-identically. An empty series touches
// nothing.
func (s *Store) Merge(series resample.Series, runTime time.Time) (MergeOutcome, error) {
	var outcome MergeOutcome
	if series.Empty() {
		return outcome, nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return outcome, &WriteError{Path: s.dir, Err: err}
	}

	weeklyPath := s.periodPath(grid.WeekLabel(runTime))
	monthlyPath := s.periodPath(grid.MonthLabel(runTime))

	weekly, err := s.mergeFile(weeklyPath, series)
	if err != nil {
		return outcome, err
	}
	outcome.Weekly = weekly

	monthly, err := s.mergeFile(monthlyPath, series)
	if err != nil {
		return outcome, err
	}
	outcome.Monthly = monthly

	if err := s.mirrorLatest(weeklyPath); err != nil {
		return outcome, err
	}

	s.logger.Debug("archive merged",
		slog.String("weekly", filepath.Base(weekly.File)),
		slog.Int("new_rows", weekly.NewRows),
		slog.Int("total_rows", weekly.TotalRows))
	return outcome, nil
}

func (s *Store) periodPath(label string) string {
	return filepath.Join(s.dir, "weather_data_"+label+".csv")
}

func (s *Store) mergeFile(path string, series resample.Series) (MergeStats, error) {
	existing, err := readTable(path)
	if err != nil {
		return MergeStats{}, &WriteError{Path: path, Err: err}
	}

	merged, newRows := mergeTable(existing, series)
	if err := writeTable(path, merged); err != nil {
		return MergeStats{}, &WriteError{Path: path, Err: err}
	}

	return MergeStats{File: path, NewRows: newRows, TotalRows: len(merged.rows)}, nil
}

// mirrorLatest copies the weekly file to latest.csv byte for byte.
func (s *Store) mirrorLatest(weeklyPath string) error {
	data, err := os.ReadFile(weeklyPath)
	if err != nil {
		return &WriteError{Path: weeklyPath, Err: err}
	}
	latestPath := filepath.Join(s.dir, "latest.csv")
	if err := writeFileAtomic(latestPath, data); err != nil {
		return &WriteError{Path: latestPath, Err: err}
	}
	return nil
}
