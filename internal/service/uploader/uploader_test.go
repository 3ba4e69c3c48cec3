package uploader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jgivc/qpkgmirror/internal/common"
	"github.com/jgivc/qpkgmirror/internal/entity"
	"github.com/jgivc/qpkgmirror/internal/retry"
)

type fakeTransport struct {
	name  string
	fail  bool
	mu    sync.Mutex
	calls []string
}

func (f *fakeTransport) Name() string {
	return f.name
}

func (f *fakeTransport) Store(ctx context.Context, localPath, product, month string) (*entity.RemoteLink, error) {
	f.mu.Lock()
	f.calls = append(f.calls, localPath)
	f.mu.Unlock()

	if f.fail {
		return nil, fmt.Errorf("%s unavailable", f.name)
	}

	return &entity.RemoteLink{
		URL:       "https://" + f.name + ".example.com/f/" + product,
		FolderURL: "https://" + f.name + ".example.com/d/" + product,
	}, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

type fakeStore struct {
	mu       sync.Mutex
	metadata map[string]entity.PackageMetadata
	uploads  map[string]entity.UploadRecord
	report   []entity.ReportEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		metadata: make(map[string]entity.PackageMetadata),
		uploads:  make(map[string]entity.UploadRecord),
	}
}

func (f *fakeStore) LoadMetadata() (map[string]entity.PackageMetadata, error) {
	return f.metadata, nil
}

func (f *fakeStore) LoadUploads() (map[string]entity.UploadRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]entity.UploadRecord, len(f.uploads))
	for k, v := range f.uploads {
		out[k] = v
	}

	return out, nil
}

func (f *fakeStore) PutUpload(filename string, rec entity.UploadRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.uploads[filename] = rec

	return nil
}

func (f *fakeStore) SaveReport(entries []entity.ReportEntry) error {
	f.report = entries

	return nil
}

func metadata(filename string, size int64) entity.PackageMetadata {
	return entity.PackageMetadata{
		ProductName:  "App",
		Version:      "1.0",
		Architecture: "x86",
		Filename:     filename,
		FileSize:     size,
		Signature:    "sig-" + filename,
		DownloadDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newService(cfg Config, primary, fallback Transport, st Store) *Service {
	policy := retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}

	return New(cfg, primary, fallback, st, policy, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestUploadRecordsLedger(t *testing.T) {
	st := newFakeStore()
	st.metadata["App_1.0_x86.qpkg"] = metadata("App_1.0_x86.qpkg", 100)

	primary := &fakeTransport{name: "ctfile"}

	svc := newService(Config{DownloadDir: "/dl", Concurrency: 2}, primary, nil, st)

	summary, entries, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Uploaded)
	require.Zero(t, summary.Failed)

	rec, exists := st.uploads["App_1.0_x86.qpkg"]
	require.True(t, exists)
	require.Equal(t, "sig-App_1.0_x86.qpkg", rec.Signature)
	require.Equal(t, "ctfile", rec.Transport)

	require.Len(t, entries, 1)
	require.Equal(t, rec.RemoteURL, entries[0].RemoteURL)
}

func TestUploadSkipsTrustworthyRecord(t *testing.T) {
	st := newFakeStore()
	st.metadata["App_1.0_x86.qpkg"] = metadata("App_1.0_x86.qpkg", 100)
	st.uploads["App_1.0_x86.qpkg"] = entity.UploadRecord{Signature: "sig-App_1.0_x86.qpkg"}

	primary := &fakeTransport{name: "ctfile"}

	svc := newService(Config{Concurrency: 2}, primary, nil, st)

	summary, _, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Skipped)
	require.Zero(t, summary.Uploaded)
	require.Zero(t, primary.callCount())
}

func TestUploadReuploadsOnStaleSignature(t *testing.T) {
	st := newFakeStore()
	st.metadata["App_1.0_x86.qpkg"] = metadata("App_1.0_x86.qpkg", 100)
	st.uploads["App_1.0_x86.qpkg"] = entity.UploadRecord{Signature: "stale"}

	primary := &fakeTransport{name: "ctfile"}

	svc := newService(Config{Concurrency: 2}, primary, nil, st)

	summary, _, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Uploaded)
	require.Equal(t, 1, primary.callCount())
}

func TestUploadFallsBackOnPrimaryFailure(t *testing.T) {
	st := newFakeStore()
	st.metadata["App_1.0_x86.qpkg"] = metadata("App_1.0_x86.qpkg", 100)

	primary := &fakeTransport{name: "ctfile", fail: true}
	fallback := &fakeTransport{name: "webdav"}

	svc := newService(Config{Concurrency: 2}, primary, fallback, st)

	summary, _, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Uploaded)
	require.Equal(t, 1, summary.Fallback)
	require.Equal(t, 1, primary.callCount())
	require.Equal(t, 1, fallback.callCount())
	require.Equal(t, "webdav", st.uploads["App_1.0_x86.qpkg"].Transport)
}

func TestUploadBothTransportsFailing(t *testing.T) {
	st := newFakeStore()
	st.metadata["App_1.0_x86.qpkg"] = metadata("App_1.0_x86.qpkg", 100)

	primary := &fakeTransport{name: "ctfile", fail: true}
	fallback := &fakeTransport{name: "webdav", fail: true}

	svc := newService(Config{Concurrency: 2}, primary, fallback, st)

	summary, _, err := svc.Run(context.Background())
	require.NoError(t, err, "per-file failures never fail the run")
	require.Equal(t, 1, summary.Failed)
	require.Zero(t, summary.Uploaded)
	require.Empty(t, st.uploads)
}

func TestOversizedFileSkipsPrimary(t *testing.T) {
	st := newFakeStore()
	st.metadata["Big_1.0_x86.qpkg"] = metadata("Big_1.0_x86.qpkg", 5000)

	primary := &fakeTransport{name: "ctfile"}
	fallback := &fakeTransport{name: "webdav"}

	svc := newService(Config{Concurrency: 2, SizeThreshold: 1000}, primary, fallback, st)

	summary, _, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Uploaded)
	require.Equal(t, 1, summary.Fallback)
	require.Zero(t, primary.callCount(), "oversized files must never touch the primary")
}

func TestOversizedWithoutFallbackIsFatalBeforeTransfers(t *testing.T) {
	st := newFakeStore()
	st.metadata["Big_1.0_x86.qpkg"] = metadata("Big_1.0_x86.qpkg", 5000)
	st.metadata["Small_1.0_x86.qpkg"] = metadata("Small_1.0_x86.qpkg", 10)

	primary := &fakeTransport{name: "ctfile"}

	svc := newService(Config{Concurrency: 2, SizeThreshold: 1000}, primary, nil, st)

	_, _, err := svc.Run(context.Background())
	require.ErrorIs(t, err, common.ErrNoFallbackTransport)
	require.Zero(t, primary.callCount(), "precondition must abort before any transfer starts")
}

type collidingTransport struct{}

func (collidingTransport) Name() string {
	return "ctfile"
}

func (collidingTransport) Store(ctx context.Context, localPath, product, month string) (*entity.RemoteLink, error) {
	return nil, fmt.Errorf("folder %s: %w", product, common.ErrFolderCollision)
}

func TestFolderCollisionFailsTheRun(t *testing.T) {
	st := newFakeStore()
	st.metadata["App_1.0_x86.qpkg"] = metadata("App_1.0_x86.qpkg", 100)

	svc := newService(Config{Concurrency: 2}, collidingTransport{}, nil, st)

	summary, _, err := svc.Run(context.Background())
	require.ErrorIs(t, err, common.ErrFolderCollision)
	require.Equal(t, 1, summary.Failed)
}
