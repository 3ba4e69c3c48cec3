// Package ctfile is the JSON-over-HTTP client for the primary file-sharing
// backend: folder list/create, file upload and the session check. All calls
// are keyed by an opaque session token.
package ctfile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/jgivc/qpkgmirror/internal/common"
	"github.com/jgivc/qpkgmirror/internal/entity"
)

const (
	pathSessionCheck = "/v1/session/check"
	pathFolderList   = "/v1/folder/list"
	pathFolderCreate = "/v1/folder/create"
	pathUploadURL    = "/v1/file/upload_url"

	codeOK           = 200
	codeUnauthorized = 401
)

// RemoteFolder is one child folder in a listing.
type RemoteFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RemoteFile is one file in a folder listing.
type RemoteFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// UploadResult is the backend's acknowledgement of a received file.
type UploadResult struct {
	URL       string `json:"url"`
	ShortURL  string `json:"short_url"`
	FolderURL string `json:"folder_url"`
}

type Client struct {
	baseURL string
	session string
	root    FolderRef
	client  *http.Client
	fs      afero.Fs
	log     *slog.Logger

	mu      sync.Mutex
	folders map[string]FolderRef // resolved child folders, keyed by parentID/name
}

func NewClient(baseURL, session, rootFolderID string, log *slog.Logger) *Client {
	return NewClientWithFS(afero.NewOsFs(), &http.Client{}, baseURL, session, rootFolderID, log)
}

func NewClientWithFS(fs afero.Fs, hc *http.Client, baseURL, session, rootFolderID string, log *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		session: session,
		root:    NewFolderRef(rootFolderID),
		client:  hc,
		fs:      fs,
		log:     log.With(slog.String("item", "CTFileClient")),
		folders: make(map[string]FolderRef),
	}
}

func (c *Client) Name() string {
	return "ctfile"
}

func (c *Client) Root() FolderRef {
	return c.root
}

// CheckSession verifies the session token before any transfer starts. A
// rejected session is a configuration problem, not a data problem.
func (c *Client) CheckSession(ctx context.Context) error {
	var resp struct {
		Code int `json:"code"`
	}

	if err := c.call(ctx, pathSessionCheck, map[string]any{"session": c.session}, &resp); err != nil {
		return err
	}

	return nil
}

// ListFolder returns the child folders and files of ref.
func (c *Client) ListFolder(ctx context.Context, ref FolderRef) ([]RemoteFolder, []RemoteFile, error) {
	var resp struct {
		Code    int            `json:"code"`
		Folders []RemoteFolder `json:"folders"`
		Files   []RemoteFile   `json:"files"`
	}

	payload := map[string]any{
		"session":   c.session,
		"folder_id": ref.ListID(),
	}

	if err := c.call(ctx, pathFolderList, payload, &resp); err != nil {
		return nil, nil, fmt.Errorf("cannot list folder %s: %w", ref, err)
	}

	return resp.Folders, resp.Files, nil
}

// FindChildFolder looks name up among the children of parent.
func (c *Client) FindChildFolder(ctx context.Context, parent FolderRef, name string) (FolderRef, bool, error) {
	folders, _, err := c.ListFolder(ctx, parent)
	if err != nil {
		return FolderRef{}, false, err
	}

	for _, f := range folders {
		if f.Name == name {
			return NewFolderRef(f.ID), true, nil
		}
	}

	return FolderRef{}, false, nil
}

// EnsureFolder finds or creates the child folder name under parent.
// Resolutions are memoized for the lifetime of the client, one backend
// round-trip per folder per run.
//
// The backend's folder namespace may be global rather than scoped to the
// parent, so a created-or-existing folder ID is only trusted after the
// parent has been re-listed and the folder confirmed as its child; anything
// else is a fatal naming collision.
func (c *Client) EnsureFolder(ctx context.Context, parent FolderRef, name string) (FolderRef, error) {
	cacheKey := parent.CreateID() + "/" + name

	c.mu.Lock()
	if ref, exists := c.folders[cacheKey]; exists {
		c.mu.Unlock()

		return ref, nil
	}
	c.mu.Unlock()

	ref, found, err := c.FindChildFolder(ctx, parent, name)
	if err != nil {
		return FolderRef{}, err
	}

	if !found {
		ref, err = c.createFolder(ctx, parent, name)
		if err != nil {
			return FolderRef{}, err
		}
	}

	c.mu.Lock()
	c.folders[cacheKey] = ref
	c.mu.Unlock()

	return ref, nil
}

func (c *Client) createFolder(ctx context.Context, parent FolderRef, name string) (FolderRef, error) {
	var resp struct {
		Code   int          `json:"code"`
		Folder RemoteFolder `json:"folder"`
	}

	payload := map[string]any{
		"session":   c.session,
		"parent_id": parent.CreateID(),
		"name":      name,
	}

	if err := c.call(ctx, pathFolderCreate, payload, &resp); err != nil {
		return FolderRef{}, fmt.Errorf("cannot create folder %s: %w", name, err)
	}

	ref := NewFolderRef(resp.Folder.ID)

	// The backend may report an "existing" folder that actually lives
	// elsewhere in its global namespace. Re-list the parent and confirm.
	confirmed, found, err := c.FindChildFolder(ctx, parent, name)
	if err != nil {
		return FolderRef{}, fmt.Errorf("cannot confirm created folder %s: %w", name, err)
	}

	if !found || confirmed.CreateID() != ref.CreateID() {
		return FolderRef{}, fmt.Errorf("folder %s under %s: %w", name, parent, common.ErrFolderCollision)
	}

	return ref, nil
}

// Upload streams the local file into folder and returns the backend's
// public URLs once it acknowledges receipt.
func (c *Client) Upload(ctx context.Context, localPath string, folder FolderRef) (*UploadResult, error) {
	uploadURL, err := c.requestUploadURL(ctx, folder)
	if err != nil {
		return nil, err
	}

	file, err := c.fs.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", localPath, err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := form.CreateFormFile("file", filepath.Base(localPath))
		if err != nil {
			pw.CloseWithError(err)

			return
		}

		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)

			return
		}

		pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		return nil, fmt.Errorf("cannot create upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot upload %s: %w", localPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upload of %s: unexpected status %s", localPath, resp.Status)
	}

	var ack struct {
		Code int `json:"code"`
		UploadResult
	}

	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("cannot decode upload response: %w", err)
	}

	if ack.Code != codeOK {
		return nil, fmt.Errorf("upload of %s rejected with code %d", localPath, ack.Code)
	}

	return &ack.UploadResult, nil
}

func (c *Client) requestUploadURL(ctx context.Context, folder FolderRef) (string, error) {
	var resp struct {
		Code      int    `json:"code"`
		UploadURL string `json:"upload_url"`
	}

	payload := map[string]any{
		"session":   c.session,
		"folder_id": folder.CreateID(),
	}

	if err := c.call(ctx, pathUploadURL, payload, &resp); err != nil {
		return "", fmt.Errorf("cannot get upload url: %w", err)
	}

	return resp.UploadURL, nil
}

func (c *Client) call(ctx context.Context, path string, payload map[string]any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cannot marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cannot create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("cannot read response: %w", err)
	}

	var envelope struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("cannot decode response: %w", err)
	}

	switch envelope.Code {
	case codeOK:
	case codeUnauthorized:
		return common.ErrSessionRejected
	default:
		return fmt.Errorf("backend code %d: %s", envelope.Code, envelope.Message)
	}

	return json.Unmarshal(data, out)
}

// Store uploads localPath into root/<product>/<month>, creating the folder
// path on demand, and returns the public links.
func (c *Client) Store(ctx context.Context, localPath, product, month string) (*entity.RemoteLink, error) {
	productRef, err := c.EnsureFolder(ctx, c.root, product)
	if err != nil {
		return nil, err
	}

	monthRef, err := c.EnsureFolder(ctx, productRef, month)
	if err != nil {
		return nil, err
	}

	res, err := c.Upload(ctx, localPath, monthRef)
	if err != nil {
		return nil, err
	}

	return &entity.RemoteLink{
		URL:       res.URL,
		ShortURL:  res.ShortURL,
		FolderURL: res.FolderURL,
	}, nil
}

// ListProductMonthFiles lists the filenames under root/<product>/<month>.
// A missing folder anywhere along the path is "nothing uploaded", not an
// error.
func (c *Client) ListProductMonthFiles(ctx context.Context, product, month string) ([]string, error) {
	productRef, found, err := c.FindChildFolder(ctx, c.root, product)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, nil
	}

	monthRef, found, err := c.FindChildFolder(ctx, productRef, month)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, nil
	}

	_, files, err := c.ListFolder(ctx, monthRef)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}

	return names, nil
}
