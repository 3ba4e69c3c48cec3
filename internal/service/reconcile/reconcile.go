// Package reconcile shrinks a pending set against ground truth: the local
// upload ledger first (cheap), then the remote storage listing (expensive,
// only for what the ledger could not satisfy). A lookup that fails or a
// filename that does not parse never satisfies an item; the conservative
// default is always "still pending".
package reconcile

import (
	"context"
	"log/slog"

	"github.com/jgivc/qpkgmirror/internal/entity"
	"github.com/jgivc/qpkgmirror/internal/qpkg"
)

// RemoteLister is the remote ground-truth source: the listing of
// root/<product>/<month> on the upload target, queried independently of any
// local ledger.
type RemoteLister interface {
	ListProductMonthFiles(ctx context.Context, product, month string) ([]string, error)
}

type Reconciler struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Reconciler {
	return &Reconciler{
		log: log.With(slog.String("item", "Reconciler")),
	}
}

// AgainstLedger drops every pending platform that has a trustworthy upload
// record. A record is trustworthy only if its signature matches the
// platform's current signature; a stale record means the file changed since
// the upload and the platform stays pending.
func (r *Reconciler) AgainstLedger(pending *entity.PendingSet, uploads map[string]entity.UploadRecord) *entity.PendingSet {
	if pending.IsEmpty() || len(uploads) == 0 {
		return pending
	}

	// The ledger is keyed by filename; index it by the parsed
	// product-version-arch key the pending side derives from URLs.
	byKey := make(map[string]entity.UploadRecord, len(uploads))
	for filename, rec := range uploads {
		if name := qpkg.ParseName(filename); name.IsValid() {
			byKey[name.Key()] = rec
		}
	}

	return r.filter(pending, func(entry *entity.CatalogEntry, p entity.PlatformVariant) bool {
		name := qpkg.ParseName(qpkg.FilenameFromURL(p.Location))
		if !name.IsValid() {
			return false // unparseable, must still process
		}

		rec, exists := byKey[name.Key()]
		if !exists {
			return false
		}

		if rec.Signature != p.Signature {
			r.log.Warn("Upload record is stale, will re-upload",
				slog.String("key", name.Key()),
				slog.String("platform", p.PlatformID),
			)

			return false
		}

		return true
	})
}

// AgainstRemote drops every pending platform whose (version, architecture)
// is already present in the remote month folder of its product. Listing
// calls are rate-sensitive, so each entry's folder is listed once and
// entries are processed sequentially.
func (r *Reconciler) AgainstRemote(ctx context.Context, pending *entity.PendingSet, lister RemoteLister, month string) *entity.PendingSet {
	if pending.IsEmpty() {
		return pending
	}

	listings := make(map[string]map[[2]string]struct{}, len(pending.Entries))

	for _, entry := range pending.Entries {
		product := qpkg.SanitizeFolderName(entry.Name)
		if _, done := listings[product]; done {
			continue
		}

		names, err := lister.ListProductMonthFiles(ctx, product, month)
		if err != nil {
			// Cannot confirm either way, keep the entry pending.
			r.log.Warn("Remote listing failed, keeping entry pending",
				slog.String("product", product),
				slog.Any("error", err),
			)

			listings[product] = nil

			continue
		}

		present := make(map[[2]string]struct{}, len(names))
		for _, n := range names {
			if parsed := qpkg.ParseName(n); parsed.IsValid() {
				present[[2]string{parsed.Version, parsed.Architecture}] = struct{}{}
			}
		}

		listings[product] = present
	}

	return r.filter(pending, func(entry *entity.CatalogEntry, p entity.PlatformVariant) bool {
		present := listings[qpkg.SanitizeFolderName(entry.Name)]
		if present == nil {
			return false
		}

		name := qpkg.ParseName(qpkg.FilenameFromURL(p.Location))
		if !name.IsValid() {
			return false
		}

		_, exists := present[[2]string{name.Version, name.Architecture}]

		return exists
	})
}

// filter rebuilds the pending set without the platforms satisfied reports
// true for; an entry whose platform list becomes empty is dropped whole.
func (r *Reconciler) filter(pending *entity.PendingSet, satisfied func(*entity.CatalogEntry, entity.PlatformVariant) bool) *entity.PendingSet {
	out := &entity.PendingSet{}

	for _, entry := range pending.Entries {
		var remaining []entity.PlatformVariant
		for _, p := range entry.Platforms {
			if satisfied(entry, p) {
				r.log.Info("Platform already uploaded",
					slog.String("entry", entry.Key()),
					slog.String("platform", p.PlatformID),
				)

				continue
			}

			remaining = append(remaining, p)
		}

		if len(remaining) == 0 {
			continue
		}

		kept := *entry
		kept.Platforms = remaining
		out.Entries = append(out.Entries, &kept)
	}

	return out
}
