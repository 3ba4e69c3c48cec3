// Package store persists the pipeline's state documents: the catalog
// snapshot, the pending-download set, the per-file metadata ledger, the
// per-file upload ledger and the post-upload report. All documents are flat,
// human-formatted JSON, rewritten wholesale on every mutation so a crash
// loses at most the in-flight item.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/jgivc/qpkgmirror/internal/entity"
)

const (
	catalogFileName  = "catalog.json"
	pendingFileName  = "pending.json"
	metadataFileName = "metadata.json"
	uploadsFileName  = "uploads.json"
	reportFileName   = "post_upload.json"

	filePerm = 0o644
	dirPerm  = 0o755
)

// Store owns the state directory. Ledger writes are serialized through a
// single mutex so concurrent transfer tasks never interleave a
// read-modify-write.
type Store struct {
	mu  sync.Mutex
	fs  afero.Fs
	dir string
	log *slog.Logger
}

func NewStore(dir string, log *slog.Logger) (*Store, error) {
	return NewStoreWithFS(afero.NewOsFs(), dir, log)
}

func NewStoreWithFS(fs afero.Fs, dir string, log *slog.Logger) (*Store, error) {
	if err := fs.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("cannot create state dir: %w", err)
	}

	return &Store{
		fs:  fs,
		dir: dir,
		log: log.With(slog.String("item", "Store")),
	}, nil
}

func (s *Store) SaveCatalog(c *entity.Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeDoc(catalogFileName, c)
}

// LoadCatalog returns the previous catalog snapshot. A missing or unreadable
// snapshot yields (nil, nil): the differ treats it as "everything is new".
func (s *Store) LoadCatalog() (*entity.Catalog, error) {
	var c entity.Catalog

	ok, err := s.readDoc(catalogFileName, &c)
	if err != nil {
		s.log.Warn("Previous catalog snapshot is unreadable, treating as absent", slog.Any("error", err))

		return nil, nil
	}

	if !ok {
		return nil, nil
	}

	return &c, nil
}

// SavePending persists the pending set. An empty set deletes the document:
// the canonical representation of "nothing pending" is an absent file.
func (s *Store) SavePending(p *entity.PendingSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.IsEmpty() {
		return s.removeDoc(pendingFileName)
	}

	return s.writeDoc(pendingFileName, p)
}

// LoadPending returns the persisted pending set and whether one existed.
func (s *Store) LoadPending() (*entity.PendingSet, bool, error) {
	var p entity.PendingSet

	ok, err := s.readDoc(pendingFileName, &p)
	if err != nil {
		return nil, false, fmt.Errorf("cannot read pending set: %w", err)
	}

	if !ok {
		return &entity.PendingSet{}, false, nil
	}

	return &p, true, nil
}

// LoadMetadata returns the metadata ledger keyed by filename. A missing
// ledger is an empty one.
func (s *Store) LoadMetadata() (map[string]entity.PackageMetadata, error) {
	ledger := make(map[string]entity.PackageMetadata)
	if _, err := s.readDoc(metadataFileName, &ledger); err != nil {
		return nil, fmt.Errorf("cannot read metadata ledger: %w", err)
	}

	return ledger, nil
}

// PutMetadata records one materialized file, overwriting any previous entry
// for the same filename, and persists the ledger immediately.
func (s *Store) PutMetadata(md entity.PackageMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger := make(map[string]entity.PackageMetadata)
	if _, err := s.readDoc(metadataFileName, &ledger); err != nil {
		return fmt.Errorf("cannot read metadata ledger: %w", err)
	}

	ledger[md.Filename] = md

	return s.writeDoc(metadataFileName, ledger)
}

// LoadUploads returns the upload ledger keyed by filename.
func (s *Store) LoadUploads() (map[string]entity.UploadRecord, error) {
	ledger := make(map[string]entity.UploadRecord)
	if _, err := s.readDoc(uploadsFileName, &ledger); err != nil {
		return nil, fmt.Errorf("cannot read upload ledger: %w", err)
	}

	return ledger, nil
}

// PutUpload records one confirmed upload and persists the ledger
// immediately, before the next task is admitted.
func (s *Store) PutUpload(filename string, rec entity.UploadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger := make(map[string]entity.UploadRecord)
	if _, err := s.readDoc(uploadsFileName, &ledger); err != nil {
		return fmt.Errorf("cannot read upload ledger: %w", err)
	}

	ledger[filename] = rec

	return s.writeDoc(uploadsFileName, ledger)
}

// SaveReport writes the post-upload report document.
func (s *Store) SaveReport(entries []entity.ReportEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeDoc(reportFileName, entries)
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// writeDoc rewrites a document atomically: write to a temp file in the same
// dir, then rename over the target.
func (s *Store) writeDoc(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal %s: %w", name, err)
	}

	tmp := s.path(name) + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, append(data, '\n'), filePerm); err != nil {
		return fmt.Errorf("cannot write %s: %w", name, err)
	}

	if err := s.fs.Rename(tmp, s.path(name)); err != nil {
		return fmt.Errorf("cannot replace %s: %w", name, err)
	}

	return nil
}

func (s *Store) readDoc(name string, v any) (bool, error) {
	data, err := afero.ReadFile(s.fs, s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("cannot unmarshal %s: %w", name, err)
	}

	return true, nil
}

func (s *Store) removeDoc(name string) error {
	err := s.fs.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove %s: %w", name, err)
	}

	return nil
}
