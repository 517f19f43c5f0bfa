package archive

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/angas/meteolog-go/grid"
)

var weeklyFilePattern = regexp.MustCompile(`^weather_data_(\d{4})_W(\d{2})\.csv$`)

// Prune removes weekly files whose ISO week ended more than retention ago.
// Monthly files and latest.csv are kept. A retention of zero disables
// pruning.
func (s *Store) Prune(retention time.Duration, now time.Time) (int, error) {
	if retention <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, &WriteError{Path: s.dir, Err: err}
	}

	cutoff := now.Add(-retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := weeklyFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		week, _ := strconv.Atoi(m[2])
		if grid.WeekEndOf(year, week).After(cutoff) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			return removed, &WriteError{Path: path, Err: err}
		}
		s.logger.Info("pruned weekly archive file", slog.String("file", entry.Name()))
		removed++
	}

	return removed, nil
}
