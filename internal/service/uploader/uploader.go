// Package uploader routes each downloaded file to an upload transport:
// CTFile as primary, WebDAV as fallback. Oversized files skip the primary
// entirely, and every confirmed upload is persisted to the ledger before the
// next task settles, which is what makes a batch resumable.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/jgivc/qpkgmirror/internal/common"
	"github.com/jgivc/qpkgmirror/internal/entity"
	"github.com/jgivc/qpkgmirror/internal/executor"
	"github.com/jgivc/qpkgmirror/internal/qpkg"
	"github.com/jgivc/qpkgmirror/internal/retry"
)

// Per-file states of the routing machine.
const (
	statePending           = "PENDING"
	stateAttemptingPrimary = "ATTEMPTING_PRIMARY"
	stateAttemptingFallbk  = "ATTEMPTING_FALLBACK"
	stateUploaded          = "UPLOADED"
	stateFailed            = "FAILED"
)

// Transport stores one local file under root/<product>/<month> on a remote
// backend and reports the public links.
type Transport interface {
	Name() string
	Store(ctx context.Context, localPath, product, month string) (*entity.RemoteLink, error)
}

type Store interface {
	LoadMetadata() (map[string]entity.PackageMetadata, error)
	LoadUploads() (map[string]entity.UploadRecord, error)
	PutUpload(filename string, rec entity.UploadRecord) error
	SaveReport(entries []entity.ReportEntry) error
}

type Config struct {
	DownloadDir   string
	Concurrency   int
	SizeThreshold int64 // bytes; 0 disables the threshold
}

type Service struct {
	cfg      Config
	primary  Transport // nil when the primary backend is not configured
	fallback Transport // nil when no fallback is configured
	store    Store
	policy   retry.Policy
	now      func() time.Time
	log      *slog.Logger
}

func New(cfg Config, primary, fallback Transport, store Store, policy retry.Policy, log *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		primary:  primary,
		fallback: fallback,
		store:    store,
		policy:   policy,
		now:      time.Now,
		log:      log.With(slog.String("item", "UploadService")),
	}
}

// Run uploads every ledgered file that has no trustworthy upload record yet,
// then writes the post-upload report. Per-file failures are tallied, never
// fatal; a missing fallback for a planned oversized file is a configuration
// error raised before any transfer starts.
func (s *Service) Run(ctx context.Context) (*entity.UploadSummary, []entity.ReportEntry, error) {
	metadata, err := s.store.LoadMetadata()
	if err != nil {
		return nil, nil, err
	}

	uploads, err := s.store.LoadUploads()
	if err != nil {
		return nil, nil, err
	}

	plan, skipped := s.plan(metadata, uploads)
	summary := &entity.UploadSummary{Total: len(plan) + skipped, Skipped: skipped}

	if err := s.checkPreconditions(plan); err != nil {
		return nil, nil, err
	}

	if len(plan) > 0 {
		s.log.Info("Uploading", slog.Int("files", len(plan)), slog.Int("already_done", skipped))

		tasks := make([]executor.Task[uploadOutcome], 0, len(plan))
		for _, md := range plan {
			tasks = append(tasks, s.uploadTask(md))
		}

		var collision error

		for _, r := range executor.RunAllSafe(ctx, tasks, s.cfg.Concurrency, s.log) {
			if !r.OK() {
				summary.Failed++
				if errors.Is(r.Err, common.ErrFolderCollision) {
					collision = r.Err
				}

				continue
			}

			summary.Uploaded++
			if r.Value.usedFallback {
				summary.Fallback++
			}
		}

		// A folder collision is a misconfigured backend, not a bad file;
		// it fails the run even though the batch was drained.
		if collision != nil {
			return summary, nil, collision
		}
	}

	report, err := s.report(metadata)
	if err != nil {
		return summary, nil, err
	}

	return summary, report, nil
}

// plan selects the metadata entries still needing an upload. An existing
// record only satisfies an entry while its signature matches the current
// metadata signature; a stale record is ignored and the file re-uploaded.
func (s *Service) plan(metadata map[string]entity.PackageMetadata, uploads map[string]entity.UploadRecord) ([]entity.PackageMetadata, int) {
	var (
		todo    []entity.PackageMetadata
		skipped int
	)

	for filename, md := range metadata {
		if rec, exists := uploads[filename]; exists && rec.Signature == md.Signature {
			skipped++

			continue
		}

		todo = append(todo, md)
	}

	sort.Slice(todo, func(i, j int) bool { return todo[i].Filename < todo[j].Filename })

	return todo, skipped
}

func (s *Service) checkPreconditions(plan []entity.PackageMetadata) error {
	if len(plan) > 0 && s.primary == nil && s.fallback == nil {
		return fmt.Errorf("no upload transport configured: %w", common.ErrNoFallbackTransport)
	}

	for _, md := range plan {
		if s.oversized(md) && s.fallback == nil {
			return fmt.Errorf("%s (%d bytes): %w", md.Filename, md.FileSize, common.ErrNoFallbackTransport)
		}
	}

	return nil
}

func (s *Service) oversized(md entity.PackageMetadata) bool {
	return s.cfg.SizeThreshold > 0 && md.FileSize > s.cfg.SizeThreshold
}

type uploadOutcome struct {
	filename     string
	usedFallback bool
}

func (s *Service) uploadTask(md entity.PackageMetadata) executor.Task[uploadOutcome] {
	return func(ctx context.Context) (uploadOutcome, error) {
		log := s.log.With(slog.String("filename", md.Filename))
		localPath := filepath.Join(s.cfg.DownloadDir, md.Filename)
		product := qpkg.SanitizeFolderName(md.ProductName)
		month := s.now().Format("2006-01")

		log.Debug("Planned upload", slog.String("state", statePending))

		state := stateAttemptingPrimary
		transport := s.primary

		// The primary's multipart path is unreliable above the size
		// threshold; oversized files go straight to the fallback.
		if transport == nil || s.oversized(md) {
			transport = s.fallback
			state = stateAttemptingFallbk
		}

		log.Debug("Routing upload", slog.String("state", state), slog.String("transport", transport.Name()))

		link, err := s.attempt(ctx, transport, localPath, product, month)
		if err != nil && transport == s.primary && s.fallback != nil {
			log.Warn("Primary transport failed, trying fallback", slog.Any("error", err))

			primaryErr := err
			state = stateAttemptingFallbk
			transport = s.fallback

			link, err = s.attempt(ctx, transport, localPath, product, month)
			if err != nil {
				err = fmt.Errorf("primary: %v; fallback: %w", primaryErr, err)
			}
		}

		if err != nil {
			log.Error("Upload failed", slog.String("state", stateFailed), slog.Any("error", err))

			return uploadOutcome{}, err
		}

		rec := entity.UploadRecord{
			Signature:       md.Signature,
			RemoteURL:       link.URL,
			RemoteFolderURL: link.FolderURL,
			ShortURL:        link.ShortURL,
			Transport:       transport.Name(),
			UploadedAt:      s.now(),
		}

		// Persist before the task settles so a crash never loses a
		// confirmed upload.
		if err := s.store.PutUpload(md.Filename, rec); err != nil {
			return uploadOutcome{}, err
		}

		log.Info("Uploaded", slog.String("state", stateUploaded), slog.String("url", link.URL), slog.String("transport", transport.Name()))

		return uploadOutcome{filename: md.Filename, usedFallback: transport == s.fallback}, nil
	}
}

func (s *Service) attempt(ctx context.Context, t Transport, localPath, product, month string) (*entity.RemoteLink, error) {
	var link *entity.RemoteLink

	err := s.policy.Do(ctx, func() error {
		l, err := t.Store(ctx, localPath, product, month)
		if err != nil {
			// A folder collision means the whole run is misconfigured;
			// retrying cannot help.
			if errors.Is(err, common.ErrFolderCollision) {
				return retry.Permanent(err)
			}

			return err
		}

		link = l

		return nil
	})
	if err != nil {
		return nil, err
	}

	return link, nil
}

// report rebuilds the post-upload report from the full ledgers: every file
// with a current upload record, enriched with its remote URLs.
func (s *Service) report(metadata map[string]entity.PackageMetadata) ([]entity.ReportEntry, error) {
	uploads, err := s.store.LoadUploads()
	if err != nil {
		return nil, err
	}

	var entries []entity.ReportEntry
	for filename, md := range metadata {
		rec, exists := uploads[filename]
		if !exists || rec.Signature != md.Signature {
			continue
		}

		entries = append(entries, entity.ReportEntry{
			PackageMetadata: md,
			RemoteURL:       rec.RemoteURL,
			ShortURL:        rec.ShortURL,
			Transport:       rec.Transport,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Filename < entries[j].Filename })

	if err := s.store.SaveReport(entries); err != nil {
		return nil, err
	}

	return entries, nil
}
