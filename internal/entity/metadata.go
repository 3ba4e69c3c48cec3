package entity

import "time"

// PackageMetadata describes one materialized local package file. The metadata
// ledger is keyed by Filename; a re-download overwrites the entry for that
// filename, never duplicates it.
type PackageMetadata struct {
	ProductName   string    `json:"productName"`
	Version       string    `json:"version"`
	Architecture  string    `json:"architecture"`
	Filename      string    `json:"filename"`
	FileSize      int64     `json:"fileSize"`
	DownloadURL   string    `json:"downloadUrl"`
	PublishedDate string    `json:"publishedDate,omitempty"`
	DownloadDate  time.Time `json:"downloadDate"`
	Signature     string    `json:"signature"`
}

// UploadRecord is one confirmed remote upload, keyed by filename in the
// upload ledger. The record is trustworthy only while its Signature matches
// the signature currently held for that file: a changed signature means the
// local file changed and the record is stale.
type UploadRecord struct {
	Signature       string    `json:"signature"`
	RemoteURL       string    `json:"remoteUrl"`
	RemoteFolderURL string    `json:"remoteFolderUrl,omitempty"`
	ShortURL        string    `json:"shortUrl,omitempty"`
	Transport       string    `json:"transport,omitempty"`
	UploadedAt      time.Time `json:"uploadedAt"`
}

// RemoteLink is the set of public URLs a transport reports for one stored
// file.
type RemoteLink struct {
	URL       string
	ShortURL  string
	FolderURL string
}

// ReportEntry is a metadata ledger entry enriched with its remote URLs,
// written once at the end of an upload run. The report document is for
// reporting only, never a resumability source.
type ReportEntry struct {
	PackageMetadata
	RemoteURL string `json:"remoteUrl"`
	ShortURL  string `json:"shortUrl,omitempty"`
	Transport string `json:"transport,omitempty"`
}

// SyncSummary is the aggregate outcome of a download phase.
type SyncSummary struct {
	RunID      string
	Total      int
	Downloaded int
	Skipped    int
	Failed     int
	Unverified int
}

// UploadSummary is the aggregate outcome of an upload phase.
type UploadSummary struct {
	Total    int
	Uploaded int
	Skipped  int
	Failed   int
	Fallback int
}
