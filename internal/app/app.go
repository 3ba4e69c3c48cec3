package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/jgivc/qpkgmirror/internal/adapter/ctfile"
	"github.com/jgivc/qpkgmirror/internal/adapter/dav"
	"github.com/jgivc/qpkgmirror/internal/adapter/feed"
	"github.com/jgivc/qpkgmirror/internal/common"
	"github.com/jgivc/qpkgmirror/internal/config"
	"github.com/jgivc/qpkgmirror/internal/entity"
	"github.com/jgivc/qpkgmirror/internal/report"
	"github.com/jgivc/qpkgmirror/internal/retry"
	"github.com/jgivc/qpkgmirror/internal/service/reconcile"
	"github.com/jgivc/qpkgmirror/internal/service/syncer"
	"github.com/jgivc/qpkgmirror/internal/service/uploader"
	"github.com/jgivc/qpkgmirror/internal/storage/store"
	"github.com/jgivc/qpkgmirror/internal/transfer"
)

// Exit codes. Per-item failures never make a run exit non-zero; only
// configuration problems and a fully failed batch do.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitConfig = 2
)

type App struct {
	cfgPath string
	force   bool
}

func New(cfgPath string, force bool) *App {
	return &App{
		cfgPath: cfgPath,
		force:   force,
	}
}

// Run executes one full sync cycle (download phase, upload phase, report)
// and returns the process exit code. It always prints a summary, even when
// some items failed.
func (a *App) Run(ctx context.Context) int {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %s\n", err)

		return ExitConfig
	}

	if a.force {
		cfg.ForceSync = true
	}

	log := newLogger(cfg.LogLevel)
	runID := uuid.NewString()
	log.Info("Starting run", slog.String("run_id", runID))

	st, err := store.NewStore(cfg.StateDir, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %s\n", err)

		return ExitConfig
	}

	var (
		primary  *ctfile.Client
		fallback *dav.Client
		remote   reconcile.RemoteLister
	)

	if cfg.CTFile.BaseURL != "" {
		primary = ctfile.NewClient(cfg.CTFile.BaseURL, cfg.CTFile.Session, cfg.CTFile.RootFolderID, log)
		if err := primary.CheckSession(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %s\n", err)

			return ExitConfig
		}

		remote = primary
	}

	if cfg.WebDAV.Configured() {
		fallback = dav.NewClient(cfg.WebDAV.URL, cfg.WebDAV.Root, cfg.WebDAV.Username, cfg.WebDAV.Password, log)
		if remote == nil {
			remote = fallback
		}
	}

	fetcher := feed.NewFetcher(cfg.Feed.URL, cfg.Feed.Token, &http.Client{Timeout: cfg.Downloads.Timeout.Std()}, log)

	dl := transfer.NewDownloader(retry.Policy{
		MaxAttempts: cfg.Downloads.MaxRetries,
		BaseDelay:   cfg.Downloads.RetryDelay.Std(),
	}, cfg.Downloads.Timeout.Std(), log)

	rec := reconcile.New(log)

	syncSvc := syncer.New(syncer.Config{
		RunID:       runID,
		DownloadDir: cfg.DownloadDir,
		Concurrency: cfg.Downloads.Concurrency,
		ForceSync:   cfg.ForceSync,
	}, fetcher, st, rec, remote, dl, log)

	syncSummary, err := syncSvc.Run(ctx)
	if err != nil {
		log.Error("Sync failed", slog.Any("error", err))
		fmt.Fprintf(os.Stderr, "sync failed: %s\n", err)

		return ExitFailed
	}

	// A typed nil inside a non-nil interface value would defeat the
	// router's nil checks.
	var primaryT, fallbackT uploader.Transport
	if primary != nil {
		primaryT = primary
	}
	if fallback != nil {
		fallbackT = fallback
	}

	upSvc := uploader.New(uploader.Config{
		DownloadDir:   cfg.DownloadDir,
		Concurrency:   cfg.Uploads.Concurrency,
		SizeThreshold: cfg.SizeThreshold,
	}, primaryT, fallbackT, st, retry.Policy{
		MaxAttempts: cfg.Uploads.MaxRetries,
		BaseDelay:   cfg.Uploads.RetryDelay.Std(),
	}, log)

	upSummary, entries, err := upSvc.Run(ctx)
	if err != nil {
		if errors.Is(err, common.ErrNoFallbackTransport) || errors.Is(err, common.ErrFolderCollision) {
			fmt.Fprintf(os.Stderr, "configuration error: %s\n", err)

			return ExitConfig
		}

		log.Error("Upload failed", slog.Any("error", err))
		fmt.Fprintf(os.Stderr, "upload failed: %s\n", err)

		return ExitFailed
	}

	gen := report.NewGenerator(cfg.StateDir, log)
	if err := gen.Generate(runID, entries); err != nil {
		log.Error("Cannot write report", slog.Any("error", err))
	}

	printSummary(syncSummary, upSummary)

	if syncSummary.Total > 0 && syncSummary.Downloaded+syncSummary.Skipped == 0 {
		fmt.Fprintf(os.Stderr, "download phase: %s\n", common.ErrNoItemsSucceeded)

		return ExitFailed
	}

	if upSummary.Total > 0 && upSummary.Uploaded+upSummary.Skipped == 0 {
		fmt.Fprintf(os.Stderr, "upload phase: %s\n", common.ErrNoItemsSucceeded)

		return ExitFailed
	}

	return ExitOK
}

func newLogger(level string) *slog.Logger {
	lo := &slog.HandlerOptions{}
	switch level {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		panic("unknown log level")
	}

	return slog.New(slog.NewTextHandler(os.Stderr, lo))
}

func printSummary(s *entity.SyncSummary, u *entity.UploadSummary) {
	fmt.Printf("Downloads: %d total, %d downloaded, %d skipped, %d failed, %d unverified\n",
		s.Total, s.Downloaded, s.Skipped, s.Failed, s.Unverified)
	fmt.Printf("Uploads: %d total, %d uploaded (%d via fallback), %d skipped, %d failed\n",
		u.Total, u.Uploaded, u.Fallback, u.Skipped, u.Failed)
}
