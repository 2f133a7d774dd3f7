// Retention clears feature vectors and stored image bytes for cases that
// have been closed longer than the configured window. Case, image, and match
// rows are kept for audit; only biometric material is destroyed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/your-org/sura/internal/config"
	"github.com/your-org/sura/internal/observability"
	"github.com/your-org/sura/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	days := flag.Int("days", 0, "override purge window in days (0 uses config)")
	dryRun := flag.Bool("dry-run", false, "report what would be purged without purging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	window := cfg.Retention.PurgeAfterDays
	if *days > 0 {
		window = *days
	}
	if window <= 0 {
		slog.Error("purge window must be positive", "days", window)
		os.Exit(1)
	}
	cutoff := time.Now().AddDate(0, 0, -window)

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if *dryRun {
		cases, images, err := db.CountPurgeable(ctx, cutoff)
		if err != nil {
			slog.Error("count purgeable", "error", err)
			os.Exit(1)
		}
		slog.Info("dry run", "cutoff", cutoff.Format(time.RFC3339), "cases", cases, "images", images)
		return
	}

	keys, err := db.PurgeClosedCases(ctx, cutoff)
	if err != nil {
		slog.Error("purge closed cases", "error", err)
		os.Exit(1)
	}
	observability.ImagesPurged.Add(float64(len(keys)))
	slog.Info("purged image rows", "count", len(keys), "cutoff", cutoff.Format(time.RFC3339))

	if len(keys) == 0 {
		return
	}

	objects, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := objects.Remove(ctx, keys); err != nil {
		// Rows are already purged; object deletion can be re-driven by hand.
		slog.Error("delete stored objects", "error", err)
		os.Exit(1)
	}
	slog.Info("deleted stored objects", "count", len(keys))
}
