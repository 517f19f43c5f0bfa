package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/angas/meteolog-go/archive"
	"github.com/angas/meteolog-go/config"
	"github.com/angas/meteolog-go/database"
	"github.com/angas/meteolog-go/ecowitt"
	"github.com/angas/meteolog-go/fetch"
	"github.com/angas/meteolog-go/logging"
	"github.com/angas/meteolog-go/task"
	"github.com/angas/meteolog-go/ttn"
	"github.com/angas/meteolog-go/ttnmqtt"
	"github.com/angas/meteolog-go/types"
)

var Version = "?.?.?"

func main() {
	defer func() {
		if err := recover(); err != nil {
			exitWithError(slog.Default(), fmt.Errorf("application panicked: %v", err))
		}
	}()

	// Local runs keep their API keys in a .env file, a missing file is fine.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config file")
	dryRun := flag.Bool("dry-run", false, "fetch and resample but skip archive writes")
	history := flag.Int("history", 0, "print the last N runs from the journal and exit")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("meteolog %s\n", Version)
		return
	}

	cnfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	consoleHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      cnfg.Logging.GetConsoleLevel(),
		TimeFormat: time.RFC3339,
	})
	slog.New(consoleHandler).Debug("meteolog is starting...", slog.String("version", Version))

	db, err := database.New(ctx, cnfg.Database.GetPath())
	if err != nil {
		panic(fmt.Sprintf("failed to open run-log database: %v", err))
	}
	defer db.Close()

	if *history > 0 {
		if err := printHistory(ctx, db, *history); err != nil {
			exitWithError(slog.New(consoleHandler), err)
		}
		return
	}

	runID := uuid.NewString()

	logger := slog.New(logging.NewMultiHandler(
		consoleHandler,
		logging.NewSQLiteHandler(db, runID, cnfg.Logging.GetDbLevel(), cnfg.Logging.GetDbFormat())))
	slog.SetDefault(logger)

	// Now we can use the logger to log database operations into the database itself
	db.SetLogger(logger.With("module", "database"))

	targets, stores, err := buildTargets(logger, cnfg)
	if err != nil {
		panic(fmt.Sprintf("failed to set up providers: %v", err))
	}

	ingest := task.NewIngestTask(
		logger.With(slog.String("task", "ingest")),
		runID,
		targets,
		task.IngestOptions{
			Interval: cnfg.Archive.GetInterval(),
			DryRun:   *dryRun,
		})
	summary := ingest(ctx)

	if !*dryRun {
		maintenance := task.NewMaintenanceTask(logger.With(slog.String("task", "maintenance")), db, cnfg, stores)
		maintenance()
	}

	// Journal the run even when the context was canceled mid-run.
	journalCtx, journalCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer journalCancel()
	if err := db.SaveRun(journalCtx, runRow(summary), providerRows(summary)); err != nil {
		logger.Error("failed to journal run", slog.Any("error", err))
	}

	if failed := summary.Failed(); failed > 0 {
		exitWithError(logger, fmt.Errorf("%d of %d providers failed", failed, len(summary.Results)))
	}

	logger.Info("meteolog is shutting down...")
}

func buildTargets(logger *slog.Logger, cnfg *config.AppConfig) ([]task.Target, []*archive.Store, error) {
	var targets []task.Target
	var stores []*archive.Store

	fetchCnfg := fetch.Config{
		Timeout:        cnfg.Fetch.GetTimeout(),
		MaxRetries:     cnfg.Fetch.GetMaxRetries(),
		InitialBackoff: cnfg.Fetch.GetInitialBackoff(),
		MaxBackoff:     cnfg.Fetch.GetMaxBackoff(),
	}

	for _, pc := range cnfg.Providers {
		if !pc.GetEnabled() {
			logger.Debug("provider disabled, skipping", slog.String("provider", pc.Name))
			continue
		}

		provider, err := newProvider(logger, pc, fetchCnfg)
		if err != nil {
			return nil, nil, err
		}

		store := archive.NewStore(
			logger.With(slog.String("provider", pc.Name)),
			pc.GetOutputDir(cnfg.Archive.GetDataDir()))
		stores = append(stores, store)
		targets = append(targets, task.Target{
			Provider: provider,
			Store:    store,
			Lookback: pc.GetLookback(),
		})
	}

	return targets, stores, nil
}

func newProvider(logger *slog.Logger, pc config.AppConfigProvider, fetchCnfg fetch.Config) (types.SampleProvider, error) {
	providerLogger := logger.With(slog.String("provider", pc.Name))

	switch pc.Type {
	case "ttn":
		return ttn.New(providerLogger, fetch.NewClient(providerLogger, pc.Name, fetchCnfg), pc.Name, ttn.Config{
			Server:        pc.Ttn.GetServer(),
			ApplicationID: pc.Ttn.ApplicationID,
			DeviceID:      pc.Ttn.DeviceID,
			Token:         pc.Ttn.Token,
		}), nil

	case "ecowitt":
		return ecowitt.New(providerLogger, fetch.NewClient(providerLogger, pc.Name, fetchCnfg), pc.Name, ecowitt.Config{
			Server:         pc.Ecowitt.Server,
			ApplicationKey: pc.Ecowitt.ApplicationKey,
			APIKey:         pc.Ecowitt.ApiKey,
			MAC:            pc.Ecowitt.Mac,
		}), nil

	case "ttn-mqtt":
		return ttnmqtt.New(providerLogger, pc.Name, ttnmqtt.Config{
			Broker:    pc.TtnMqtt.Broker,
			Port:      pc.TtnMqtt.GetPort(),
			Username:  pc.TtnMqtt.Username,
			Password:  pc.TtnMqtt.Password,
			DeviceID:  pc.TtnMqtt.DeviceID,
			ListenFor: pc.TtnMqtt.GetListenFor(),
		}), nil

	default:
		return nil, fmt.Errorf("unknown provider type %q for %s", pc.Type, pc.Name)
	}
}

func runRow(sum task.Summary) database.RunRow {
	return database.RunRow{
		ID:         sum.RunID,
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		DryRun:     sum.DryRun,
		Succeeded:  sum.Succeeded(),
		Failed:     sum.Failed(),
	}
}

func providerRows(sum task.Summary) []database.ProviderRunRow {
	rows := make([]database.ProviderRunRow, len(sum.Results))
	for i, r := range sum.Results {
		row := database.ProviderRunRow{
			RunID:      sum.RunID,
			Provider:   r.Provider,
			Kind:       r.Kind,
			Status:     "ok",
			Samples:    r.Samples,
			Dropped:    r.Dropped,
			NewRows:    r.NewRows,
			TotalRows:  r.TotalRows,
			DurationMs: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			row.Status = "failed"
			row.Error = r.Err.Error()
		}
		rows[i] = row
	}
	return rows
}

func printHistory(ctx context.Context, db *database.Database, n int) error {
	runs, err := db.GetRecentRuns(ctx, n)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded yet")
		return nil
	}

	for _, run := range runs {
		label := "ok"
		if run.Failed > 0 {
			label = "FAILED"
		}
		if run.DryRun {
			label += " (dry-run)"
		}
		fmt.Printf("%s  %s  %s\n", run.StartedAt.Format(time.RFC3339), run.ID, label)

		provs, err := db.GetProviderRuns(ctx, run.ID)
		if err != nil {
			return err
		}
		for _, p := range provs {
			if p.Status == "ok" {
				fmt.Printf("    %-20s %-10s %4d samples, %4d rows (+%d), %dms\n",
					p.Provider, p.Kind, p.Samples, p.TotalRows, p.NewRows, p.DurationMs)
			} else {
				fmt.Printf("    %-20s %-10s failed: %s\n", p.Provider, p.Kind, p.Error)
			}
		}

		if run.Failed > 0 {
			entries, err := db.GetRunLogEntries(ctx, run.ID, slog.LevelError, 5)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("    ! %s %s %s\n", e.Timestamp.Format(time.RFC3339), e.Message, e.Attrs)
			}
		}
	}
	return nil
}

func exitWithError(logger *slog.Logger, err error) {
	logger.Error("run failed", slog.Any("error", err))
	os.Exit(1)
}
