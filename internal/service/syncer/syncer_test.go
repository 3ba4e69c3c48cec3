package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/jgivc/qpkgmirror/internal/entity"
	"github.com/jgivc/qpkgmirror/internal/service/reconcile"
	"github.com/jgivc/qpkgmirror/internal/storage/store"
	"github.com/jgivc/qpkgmirror/internal/transfer"
)

type fakeFeed struct {
	catalog *entity.Catalog
}

func (f *fakeFeed) Fetch(ctx context.Context) (*entity.Catalog, error) {
	return f.catalog, nil
}

type fakeDownloader struct {
	fail  map[string]bool // by url
	calls []string
}

func (f *fakeDownloader) Download(ctx context.Context, url, destPath, expectedSignature string) (transfer.Result, error) {
	f.calls = append(f.calls, url)

	if f.fail[url] {
		return transfer.Result{}, fmt.Errorf("cannot download %s", url)
	}

	return transfer.Result{Success: true, BytesWritten: 42, Verified: true}, nil
}

type fakeLister struct {
	files map[string][]string
}

func (f *fakeLister) ListProductMonthFiles(ctx context.Context, product, month string) ([]string, error) {
	return f.files[product], nil
}

func catalogV1() *entity.Catalog {
	return &entity.Catalog{
		Entries: []*entity.CatalogEntry{
			{
				Name:    "A",
				Version: "1.0",
				Platforms: []entity.PlatformVariant{
					{PlatformID: "X86", Location: "https://vendor.example.com/a_1.0_x86.qpkg", Signature: "sig-1.0"},
				},
			},
		},
	}
}

func catalogV2() *entity.Catalog {
	return &entity.Catalog{
		Entries: []*entity.CatalogEntry{
			{
				Name:    "A",
				Version: "1.1",
				Platforms: []entity.PlatformVariant{
					{PlatformID: "X86", Location: "https://vendor.example.com/a_1.1_x86.qpkg", Signature: "sig-1.1"},
				},
			},
		},
	}
}

func newTestService(t *testing.T, feed FeedSource, st *store.Store, dl Downloader, remote reconcile.RemoteLister) *Service {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(Config{
		RunID:       "test-run",
		DownloadDir: "/dl",
		Concurrency: 2,
	}, feed, st, reconcile.New(log), remote, dl, log)
}

func newMemStore(t *testing.T) (*store.Store, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	st, err := store.NewStoreWithFS(fs, "/state", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	return st, fs
}

func TestFirstRunDownloadsEverything(t *testing.T) {
	st, fs := newMemStore(t)
	dl := &fakeDownloader{}

	svc := newTestService(t, &fakeFeed{catalog: catalogV1()}, st, dl, nil)

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total)
	require.Equal(t, 1, summary.Downloaded)
	require.Zero(t, summary.Failed)

	ledger, err := st.LoadMetadata()
	require.NoError(t, err)
	require.Contains(t, ledger, "a_1.0_x86.qpkg")
	require.Equal(t, "1.0", ledger["a_1.0_x86.qpkg"].Version)
	require.Equal(t, "x86", ledger["a_1.0_x86.qpkg"].Architecture)

	// Everything settled, so the pending-set document must be gone.
	exists, err := afero.Exists(fs, "/state/pending.json")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestUnchangedCatalogDoesNothing(t *testing.T) {
	st, _ := newMemStore(t)
	dl := &fakeDownloader{}

	svc := newTestService(t, &fakeFeed{catalog: catalogV1()}, st, dl, nil)

	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, dl.calls, 1)

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Total)
	require.Len(t, dl.calls, 1, "an unchanged catalog must trigger no downloads")
}

func TestVersionBumpYieldsNewPending(t *testing.T) {
	st, fs := newMemStore(t)
	dl := &fakeDownloader{}

	_, err := newTestService(t, &fakeFeed{catalog: catalogV1()}, st, dl, nil).Run(context.Background())
	require.NoError(t, err)

	summary, err := newTestService(t, &fakeFeed{catalog: catalogV2()}, st, dl, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total)
	require.Equal(t, 1, summary.Downloaded)
	require.Equal(t, "https://vendor.example.com/a_1.1_x86.qpkg", dl.calls[len(dl.calls)-1])

	exists, err := afero.Exists(fs, "/state/pending.json")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestFailedDownloadStaysPending(t *testing.T) {
	st, fs := newMemStore(t)
	dl := &fakeDownloader{fail: map[string]bool{"https://vendor.example.com/a_1.0_x86.qpkg": true}}

	svc := newTestService(t, &fakeFeed{catalog: catalogV1()}, st, dl, nil)

	summary, err := svc.Run(context.Background())
	require.NoError(t, err, "per-item failures never fail the run")
	require.Equal(t, 1, summary.Failed)

	exists, err := afero.Exists(fs, "/state/pending.json")
	require.NoError(t, err)
	require.True(t, exists, "unfinished work must survive as the pending document")

	pending, existed, err := st.LoadPending()
	require.NoError(t, err)
	require.True(t, existed)
	require.Len(t, pending.Entries, 1)
}

func TestLeftoverPendingIsRetriedNextRun(t *testing.T) {
	st, _ := newMemStore(t)
	dl := &fakeDownloader{fail: map[string]bool{"https://vendor.example.com/a_1.0_x86.qpkg": true}}

	_, err := newTestService(t, &fakeFeed{catalog: catalogV1()}, st, dl, nil).Run(context.Background())
	require.NoError(t, err)

	// Same catalog again: the diff is empty but the leftover pending set
	// must be merged back in and retried.
	dl.fail = nil

	summary, err := newTestService(t, &fakeFeed{catalog: catalogV1()}, st, dl, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total)
	require.Equal(t, 1, summary.Downloaded)
}

func TestRemoteGroundTruthShrinksPending(t *testing.T) {
	st, _ := newMemStore(t)
	dl := &fakeDownloader{}
	remote := &fakeLister{files: map[string][]string{
		"A": {"a_1.0_x86.qpkg"},
	}}

	svc := newTestService(t, &fakeFeed{catalog: catalogV1()}, st, dl, remote)

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Total, "files already on the remote must not be re-processed")
	require.Empty(t, dl.calls)
}

func TestUploadedPlatformIsNotRedownloaded(t *testing.T) {
	st, _ := newMemStore(t)

	require.NoError(t, st.PutUpload("a_1.0_x86.qpkg", entity.UploadRecord{Signature: "sig-1.0"}))

	dl := &fakeDownloader{}
	svc := newTestService(t, &fakeFeed{catalog: catalogV1()}, st, dl, nil)

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Total)
	require.Empty(t, dl.calls)
}

func TestForceSyncIgnoresDiff(t *testing.T) {
	st, _ := newMemStore(t)
	dl := &fakeDownloader{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := newTestService(t, &fakeFeed{catalog: catalogV1()}, st, dl, nil).Run(context.Background())
	require.NoError(t, err)

	forced := New(Config{
		RunID:       "forced-run",
		DownloadDir: "/dl",
		Concurrency: 2,
		ForceSync:   true,
	}, &fakeFeed{catalog: catalogV1()}, st, reconcile.New(log), nil, dl, log)

	summary, err := forced.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total)
	require.Equal(t, 1, summary.Skipped+summary.Downloaded)
}
