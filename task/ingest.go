package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/angas/meteolog-go/archive"
	"github.com/angas/meteolog-go/resample"
	"github.com/angas/meteolog-go/types"
)

// Target binds a provider to the archive its samples feed.
type Target struct {
	Provider types.SampleProvider
	Store    *archive.Store
	Lookback time.Duration
}

// Result is one provider's outcome within a run.
type Result struct {
	Provider  string
	Kind      string
	Samples   int
	Dropped   int
	NewRows   int
	TotalRows int
	Duration  time.Duration
	Err       error
}

// Summary is the outcome of a whole ingest run.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Results    []Result
}

func (s Summary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

func (s Summary) Failed() int {
	return len(s.Results) - s.Succeeded()
}

type IngestOptions struct {
	Interval time.Duration
	DryRun   bool
}

// NewIngestTask returns the run closure. Providers run sequentially in
// config order and never affect each other: an error or panic in one
// marks that result failed and the loop moves on. Archives are only
// written after a provider's fetch and resample completed.
func NewIngestTask(logger *slog.Logger, runID string, targets []Target, opts IngestOptions) func(context.Context) Summary {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Minute
	}

	return func(ctx context.Context) Summary {
		sum := Summary{RunID: runID, StartedAt: time.Now().UTC(), DryRun: opts.DryRun}

		logger.Info("starting ingest run",
			slog.String("run", runID),
			slog.Int("providers", len(targets)),
			slog.Bool("dryRun", opts.DryRun))

		for _, tgt := range targets {
			res := runOne(ctx, logger, tgt, opts)
			if res.Err != nil {
				logger.Error("provider run failed",
					slog.String("provider", res.Provider),
					slog.Any("error", res.Err))
			} else {
				logger.Info("provider run done",
					slog.String("provider", res.Provider),
					slog.Int("samples", res.Samples),
					slog.Int("newRows", res.NewRows),
					slog.Duration("duration", res.Duration.Round(time.Millisecond)))
			}
			sum.Results = append(sum.Results, res)
		}

		sum.FinishedAt = time.Now().UTC()
		logger.Info(fmt.Sprintf("ingest run done: %d successful, %d failed", sum.Succeeded(), sum.Failed()))
		return sum
	}
}

func runOne(ctx context.Context, logger *slog.Logger, tgt Target, opts IngestOptions) (result Result) {
	result = Result{Provider: tgt.Provider.Name(), Kind: tgt.Provider.Kind()}
	started := time.Now()
	defer func() {
		result.Duration = time.Since(started)
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("provider panic: %v", r)
		}
	}()

	lookback := tgt.Lookback
	if lookback <= 0 {
		lookback = 168 * time.Hour
	}
	until := time.Now().UTC()
	since := until.Add(-lookback)

	logger.Debug("fetching window",
		slog.String("provider", result.Provider),
		slog.Time("since", since),
		slog.Time("until", until))

	fetched, err := tgt.Provider.FetchWindow(ctx, since, until)
	result.Samples = len(fetched.Samples)
	result.Dropped = fetched.Dropped
	if err != nil {
		result.Err = err
		return result
	}

	if len(fetched.Samples) == 0 {
		logger.Info("no samples in window", slog.String("provider", result.Provider))
		return result
	}

	series := resample.Resample(fetched.Samples, opts.Interval)

	if opts.DryRun {
		logger.Info("dry-run, would merge series",
			slog.String("provider", result.Provider),
			slog.Int("rows", len(series.Rows)),
			slog.Int("fields", len(series.Fields)))
		return result
	}

	outcome, err := tgt.Store.Merge(series, until)
	if err != nil {
		result.Err = err
		return result
	}
	result.NewRows = outcome.Weekly.NewRows
	result.TotalRows = outcome.Weekly.TotalRows
	return result
}
