// Package qpkg holds the shared filename and folder-name contracts used by
// every component that looks at a package file: the downloader, the
// reconciler and the upload router must all agree on them.
package qpkg

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	// A package name has the form <product>_<version>_<arch>.qpkg where
	// version is a run of digits and dots and arch is everything up to the
	// extension (it may itself contain underscores, e.g. x86_64).
	nameRegexp = regexp.MustCompile(`^(.*?)_([\d.]+)_(.+)\.qpkg$`)

	folderCharRegexp = regexp.MustCompile(`[^A-Za-z0-9_\s-]+`)
	whitespaceRegexp = regexp.MustCompile(`\s+`)
	underscoreRegexp = regexp.MustCompile(`_+`)
)

// Name is the parsed form of a package filename. A filename that does not
// match the expected shape yields empty Product, Version and Architecture;
// callers must treat such files conservatively (keep, never silently drop).
type Name struct {
	Product      string
	Version      string
	Architecture string
}

func (n Name) IsValid() bool {
	return n.Version != "" && n.Architecture != ""
}

// Key builds the ledger lookup key <product>-<version>-<arch>.
func (n Name) Key() string {
	return n.Product + "-" + n.Version + "-" + n.Architecture
}

// ParseName parses a package filename.
func ParseName(filename string) Name {
	m := nameRegexp.FindStringSubmatch(filename)
	if m == nil {
		return Name{}
	}

	return Name{
		Product:      m[1],
		Version:      m[2],
		Architecture: m[3],
	}
}

// FilenameFromURL derives the package filename from a download URL path.
func FilenameFromURL(location string) string {
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}

	return path.Base(location)
}

// SanitizeFolderName turns a product display name into its remote folder
// name: characters outside [A-Za-z0-9_\s-] are stripped, whitespace runs and
// repeated underscores collapse to a single underscore.
func SanitizeFolderName(name string) string {
	s := folderCharRegexp.ReplaceAllString(name, "")
	s = whitespaceRegexp.ReplaceAllString(s, "_")
	s = underscoreRegexp.ReplaceAllString(s, "_")

	return strings.Trim(s, "_ ")
}
