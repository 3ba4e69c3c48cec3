package ctfile

import "strings"

// FolderRef carries both identifier forms of one backend folder. The
// backend's "list children" calls want the d-prefixed form while create and
// upload calls want the bare numeric form; both are computed once here and
// never re-derived at call sites.
type FolderRef struct {
	raw      string
	listID   string
	createID string
}

func NewFolderRef(raw string) FolderRef {
	id := strings.TrimPrefix(raw, "d")

	return FolderRef{
		raw:      raw,
		listID:   "d" + id,
		createID: id,
	}
}

// ListID returns the identifier form accepted by list calls.
func (r FolderRef) ListID() string {
	return r.listID
}

// CreateID returns the identifier form accepted as a parent by create and
// upload calls.
func (r FolderRef) CreateID() string {
	return r.createID
}

func (r FolderRef) IsZero() bool {
	return r.createID == ""
}

func (r FolderRef) String() string {
	return r.raw
}
