// Package dav is the fallback storage transport: plain WebDAV directory
// creation plus byte-stream PUT. It carries oversized files the primary
// backend's multipart path cannot take, and any file whose primary upload
// failed.
package dav

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/studio-b12/gowebdav"

	"github.com/jgivc/qpkgmirror/internal/entity"
)

const dirPerm = 0o755

type Client struct {
	dav  *gowebdav.Client
	base string // public URL prefix the server exposes files under
	root string
	fs   afero.Fs
	log  *slog.Logger
}

func NewClient(url, root, username, password string, log *slog.Logger) *Client {
	return NewClientWithFS(afero.NewOsFs(), url, root, username, password, log)
}

func NewClientWithFS(fs afero.Fs, url, root, username, password string, log *slog.Logger) *Client {
	return &Client{
		dav:  gowebdav.NewClient(url, username, password),
		base: url,
		root: root,
		fs:   fs,
		log:  log.With(slog.String("item", "WebDAVClient")),
	}
}

func (c *Client) Name() string {
	return "webdav"
}

// Store uploads localPath to <root>/<product>/<month>/ and returns the
// resulting public URL. Directory creation tolerates "already exists": the
// server signals it with a distinct non-2xx status, which gowebdav surfaces
// as an error for a path that then stats fine.
func (c *Client) Store(ctx context.Context, localPath, product, month string) (*entity.RemoteLink, error) {
	dir := path.Join(c.root, product, month)
	if err := c.ensureDir(dir); err != nil {
		return nil, err
	}

	file, err := c.fs.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", localPath, err)
	}
	defer file.Close()

	remotePath := path.Join(dir, filepath.Base(localPath))
	if err := c.dav.WriteStream(remotePath, file, os.FileMode(dirPerm)); err != nil {
		return nil, fmt.Errorf("cannot put %s: %w", remotePath, err)
	}

	c.log.Info("Stored file", slog.String("path", remotePath))

	return &entity.RemoteLink{
		URL:       c.base + remotePath,
		FolderURL: c.base + dir,
	}, nil
}

// ListProductMonthFiles lists filenames under <root>/<product>/<month>. A
// missing directory is "nothing uploaded", not an error.
func (c *Client) ListProductMonthFiles(ctx context.Context, product, month string) ([]string, error) {
	dir := path.Join(c.root, product, month)

	infos, err := c.dav.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) || gowebdav.IsErrNotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("cannot list %s: %w", dir, err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, info.Name())
		}
	}

	return names, nil
}

func (c *Client) ensureDir(dir string) error {
	if err := c.dav.MkdirAll(dir, os.FileMode(dirPerm)); err != nil {
		// MkdirAll reports an existing directory as a non-2xx status;
		// distinguish it from a real failure by statting the path.
		if _, statErr := c.dav.Stat(dir); statErr == nil {
			return nil
		}

		return fmt.Errorf("cannot create dir %s: %w", dir, err)
	}

	return nil
}
