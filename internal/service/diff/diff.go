// Package diff computes the stage-1 pending set: a cheap, in-memory
// comparison of two catalog snapshots at entry granularity. Per-platform
// narrowing is the reconciler's job.
package diff

import "github.com/jgivc/qpkgmirror/internal/entity"

// Diff compares the previous catalog snapshot with the current one and
// returns the entries that need work. A nil previous means everything is
// new: the whole current catalog becomes pending. Entries are included or
// excluded as a whole, never per platform.
func Diff(previous, current *entity.Catalog) *entity.PendingSet {
	pending := &entity.PendingSet{}
	if current == nil {
		return pending
	}

	if previous == nil {
		pending.Entries = current.Entries

		return pending
	}

	for _, entry := range current.Entries {
		prev := previous.Lookup(entry.Key())
		if prev == nil || prev.Version != entry.Version || hasNewPlatform(prev, entry) {
			pending.Entries = append(pending.Entries, entry)
		}
	}

	return pending
}

// hasNewPlatform reports whether entry carries at least one
// (platformId, location) pair absent from prev: a new build published under
// an unchanged version.
func hasNewPlatform(prev, entry *entity.CatalogEntry) bool {
	known := make(map[[2]string]struct{}, len(prev.Platforms))
	for _, p := range prev.Platforms {
		known[[2]string{p.PlatformID, p.Location}] = struct{}{}
	}

	for _, p := range entry.Platforms {
		if _, exists := known[[2]string{p.PlatformID, p.Location}]; !exists {
			return true
		}
	}

	return false
}
