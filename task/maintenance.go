package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/angas/meteolog-go/archive"
	"github.com/angas/meteolog-go/config"
	"github.com/angas/meteolog-go/database"
)

// NewMaintenanceTask prunes aged weekly archives and trims the run-log
// database. Maintenance failures are logged and swallowed, they never
// change the outcome of the ingest run that preceded them.
func NewMaintenanceTask(logger *slog.Logger, db *database.Database, cnfg *config.AppConfig, stores []*archive.Store) func() {
	return func() {
		logger.Debug("running maintenance task...")

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()

		now := time.Now().UTC()
		for _, store := range stores {
			if _, err := store.Prune(cnfg.Archive.GetWeeklyRetention(), now); err != nil {
				logger.Error("archive maintenance error",
					slog.String("dir", store.Dir()),
					slog.Any("error", err))
			}
		}

		if err := db.PurgeLog(ctx, cnfg.RunLog.GetMaxLogEntries()); err != nil {
			logger.Error("log maintenance error", slog.Any("error", err))
		}

		if err := db.PurgeRuns(ctx, cnfg.RunLog.GetRunRetention()); err != nil {
			logger.Error("run journal maintenance error", slog.Any("error", err))
		}

		logger.Info("maintenance task done")
	}
}
