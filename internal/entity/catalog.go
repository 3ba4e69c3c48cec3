package entity

// PlatformVariant is one architecture build of a product. Location is the
// vendor download URL; the filename is derived from its path and never stored
// separately. Signature is the vendor-provided integrity token, format
// unspecified.
type PlatformVariant struct {
	PlatformID    string `json:"platformId"`
	Location      string `json:"location"`
	Signature     string `json:"signature"`
	PublishedDate string `json:"publishedDate,omitempty"`
}

// CatalogEntry is one product of the vendor catalog.
type CatalogEntry struct {
	Name         string            `json:"name"`
	InternalName string            `json:"internalName,omitempty"`
	Version      string            `json:"version"`
	Platforms    []PlatformVariant `json:"platforms"`
}

// Key returns the stable lookup key of an entry. InternalName falls back to
// Name when the feed does not publish one.
func (e *CatalogEntry) Key() string {
	if e.InternalName != "" {
		return e.InternalName
	}

	return e.Name
}

// Catalog is a full snapshot of the vendor feed at one point in time.
// CacheCheck is an opaque passthrough token from the feed.
type Catalog struct {
	CacheCheck string          `json:"cachechk,omitempty"`
	Entries    []*CatalogEntry `json:"entries"`
}

// Lookup returns the entry with the given key, or nil.
func (c *Catalog) Lookup(key string) *CatalogEntry {
	for _, e := range c.Entries {
		if e.Key() == key {
			return e
		}
	}

	return nil
}

// PendingSet is the subset of a catalog still requiring download or upload
// work. It has the same shape as the catalog it was cut from. The canonical
// empty form is an absent persisted document, never an empty list on disk.
type PendingSet struct {
	Entries []*CatalogEntry `json:"entries"`
}

func (p *PendingSet) IsEmpty() bool {
	return p == nil || len(p.Entries) == 0
}

// PlatformCount returns the number of platform variants over all entries.
func (p *PendingSet) PlatformCount() int {
	if p == nil {
		return 0
	}

	var n int
	for _, e := range p.Entries {
		n += len(e.Platforms)
	}

	return n
}
