// Package syncer drives the download phase: fetch the catalog, diff it
// against the previous snapshot, shrink the pending set against ground
// truth, then materialize the remaining files through the bounded executor.
package syncer

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jgivc/qpkgmirror/internal/entity"
	"github.com/jgivc/qpkgmirror/internal/executor"
	"github.com/jgivc/qpkgmirror/internal/qpkg"
	"github.com/jgivc/qpkgmirror/internal/service/diff"
	"github.com/jgivc/qpkgmirror/internal/service/reconcile"
	"github.com/jgivc/qpkgmirror/internal/transfer"
)

type FeedSource interface {
	Fetch(ctx context.Context) (*entity.Catalog, error)
}

type Downloader interface {
	Download(ctx context.Context, url, destPath, expectedSignature string) (transfer.Result, error)
}

type Store interface {
	LoadCatalog() (*entity.Catalog, error)
	SaveCatalog(c *entity.Catalog) error
	LoadPending() (*entity.PendingSet, bool, error)
	SavePending(p *entity.PendingSet) error
	LoadUploads() (map[string]entity.UploadRecord, error)
	PutMetadata(md entity.PackageMetadata) error
}

type Config struct {
	RunID       string
	DownloadDir string
	Concurrency int
	ForceSync   bool
}

type Service struct {
	cfg    Config
	feed   FeedSource
	store  Store
	rec    *reconcile.Reconciler
	remote reconcile.RemoteLister // nil when no remote ground truth is reachable
	dl     Downloader
	now    func() time.Time
	log    *slog.Logger
}

func New(cfg Config, feed FeedSource, store Store, rec *reconcile.Reconciler, remote reconcile.RemoteLister, dl Downloader, log *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		feed:   feed,
		store:  store,
		rec:    rec,
		remote: remote,
		dl:     dl,
		now:    time.Now,
		log:    log.With(slog.String("item", "SyncService"), slog.String("run_id", cfg.RunID)),
	}
}

// Run executes one download cycle and returns the aggregate counts.
// Individual item failures never fail the run; they are tallied.
func (s *Service) Run(ctx context.Context) (*entity.SyncSummary, error) {
	current, err := s.feed.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	pending, err := s.plan(ctx, current)
	if err != nil {
		return nil, err
	}

	summary := &entity.SyncSummary{RunID: s.cfg.RunID, Total: pending.PlatformCount()}

	if pending.IsEmpty() {
		s.log.Info("Nothing pending")

		return summary, nil
	}

	s.log.Info("Downloading", slog.Int("platforms", pending.PlatformCount()), slog.Int("entries", len(pending.Entries)))

	done := s.download(ctx, pending, summary)

	// Shrink the pending set to what is still outstanding and persist it;
	// an empty set removes the document entirely.
	remaining := dropDone(pending, done)
	if err := s.store.SavePending(remaining); err != nil {
		return summary, err
	}

	return summary, nil
}

// plan computes the pending set for this cycle: the catalog diff (or the
// whole catalog under force-sync), merged with any leftovers persisted by an
// interrupted run, then narrowed against the upload ledger and the remote
// listing.
func (s *Service) plan(ctx context.Context, current *entity.Catalog) (*entity.PendingSet, error) {
	var pending *entity.PendingSet

	if s.cfg.ForceSync {
		s.log.Info("Force sync, whole catalog is pending")
		pending = &entity.PendingSet{Entries: current.Entries}
	} else {
		previous, err := s.store.LoadCatalog()
		if err != nil {
			return nil, err
		}

		pending = diff.Diff(previous, current)

		leftover, existed, err := s.store.LoadPending()
		if err != nil {
			return nil, err
		}

		if existed {
			s.log.Info("Merging leftover pending set", slog.Int("entries", len(leftover.Entries)))
			pending = merge(pending, leftover)
		}
	}

	if err := s.store.SaveCatalog(current); err != nil {
		return nil, err
	}

	uploads, err := s.store.LoadUploads()
	if err != nil {
		return nil, err
	}

	pending = s.rec.AgainstLedger(pending, uploads)

	if s.remote != nil {
		pending = s.rec.AgainstRemote(ctx, pending, s.remote, s.month())
	}

	if err := s.store.SavePending(pending); err != nil {
		return nil, err
	}

	return pending, nil
}

type downloadOutcome struct {
	entryKey   string
	platformID string
	result     transfer.Result
}

// download runs the transfer batch in safe mode and records metadata for
// every success immediately, so a crash preserves completed work. It returns
// the set of settled (entry, platform) pairs.
func (s *Service) download(ctx context.Context, pending *entity.PendingSet, summary *entity.SyncSummary) map[[2]string]struct{} {
	var tasks []executor.Task[downloadOutcome]

	for _, entry := range pending.Entries {
		for _, p := range entry.Platforms {
			tasks = append(tasks, s.downloadTask(entry, p))
		}
	}

	results := executor.RunAllSafe(ctx, tasks, s.cfg.Concurrency, s.log)

	done := make(map[[2]string]struct{})
	for _, r := range results {
		if !r.OK() {
			summary.Failed++

			continue
		}

		done[[2]string{r.Value.entryKey, r.Value.platformID}] = struct{}{}

		switch {
		case r.Value.result.Skipped:
			summary.Skipped++
		default:
			summary.Downloaded++
		}

		if !r.Value.result.Verified {
			summary.Unverified++
		}
	}

	return done
}

func (s *Service) downloadTask(entry *entity.CatalogEntry, p entity.PlatformVariant) executor.Task[downloadOutcome] {
	return func(ctx context.Context) (downloadOutcome, error) {
		filename := qpkg.FilenameFromURL(p.Location)
		dest := filepath.Join(s.cfg.DownloadDir, filename)

		res, err := s.dl.Download(ctx, p.Location, dest, p.Signature)
		if err != nil {
			return downloadOutcome{}, err
		}

		md := entity.PackageMetadata{
			ProductName:   entry.Name,
			Version:       entry.Version,
			Architecture:  p.PlatformID,
			Filename:      filename,
			FileSize:      res.BytesWritten,
			DownloadURL:   p.Location,
			PublishedDate: p.PublishedDate,
			DownloadDate:  s.now(),
			Signature:     p.Signature,
		}

		if name := qpkg.ParseName(filename); name.IsValid() {
			md.Version = name.Version
			md.Architecture = name.Architecture
		}

		if err := s.store.PutMetadata(md); err != nil {
			return downloadOutcome{}, err
		}

		return downloadOutcome{entryKey: entry.Key(), platformID: p.PlatformID, result: res}, nil
	}
}

func (s *Service) month() string {
	return s.now().Format("2006-01")
}

// merge unions two pending sets, deduplicating entries by key and platforms
// by (platformId, location).
func merge(a, b *entity.PendingSet) *entity.PendingSet {
	out := &entity.PendingSet{}

	byKey := make(map[string]*entity.CatalogEntry)
	add := func(entry *entity.CatalogEntry) {
		existing, ok := byKey[entry.Key()]
		if !ok {
			cp := *entry
			cp.Platforms = append([]entity.PlatformVariant(nil), entry.Platforms...)
			byKey[cp.Key()] = &cp
			out.Entries = append(out.Entries, &cp)

			return
		}

		for _, p := range entry.Platforms {
			if !hasPlatform(existing, p) {
				existing.Platforms = append(existing.Platforms, p)
			}
		}
	}

	for _, e := range a.Entries {
		add(e)
	}

	for _, e := range b.Entries {
		add(e)
	}

	return out
}

func hasPlatform(entry *entity.CatalogEntry, p entity.PlatformVariant) bool {
	for _, q := range entry.Platforms {
		if q.PlatformID == p.PlatformID && q.Location == p.Location {
			return true
		}
	}

	return false
}

// dropDone removes every settled platform from the pending set.
func dropDone(pending *entity.PendingSet, done map[[2]string]struct{}) *entity.PendingSet {
	out := &entity.PendingSet{}

	for _, entry := range pending.Entries {
		var remaining []entity.PlatformVariant
		for _, p := range entry.Platforms {
			if _, ok := done[[2]string{entry.Key(), p.PlatformID}]; !ok {
				remaining = append(remaining, p)
			}
		}

		if len(remaining) == 0 {
			continue
		}

		kept := *entry
		kept.Platforms = remaining
		out.Entries = append(out.Entries, &kept)
	}

	return out
}
