// Package feed fetches the vendor's published package catalog and maps its
// XML document onto the catalog entities.
package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jgivc/qpkgmirror/internal/entity"
)

type xmlPlatform struct {
	PlatformID    string `xml:"platformID"`
	Location      string `xml:"location"`
	Signature     string `xml:"signature"`
	PublishedDate string `xml:"publishedDate"`
}

type xmlItem struct {
	Name         string        `xml:"name"`
	InternalName string        `xml:"internalName"`
	Version      string        `xml:"version"`
	Platforms    []xmlPlatform `xml:"platform"`
}

type xmlPlugins struct {
	CacheCheck string    `xml:"cachechk,attr"`
	Items      []xmlItem `xml:"item"`
}

type Fetcher struct {
	url    string
	token  string
	client *http.Client
	log    *slog.Logger
}

func NewFetcher(url, token string, client *http.Client, log *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}

	return &Fetcher{
		url:    url,
		token:  token,
		client: client,
		log:    log.With(slog.String("item", "FeedFetcher")),
	}
}

// Fetch downloads and decodes the current catalog snapshot.
func (f *Fetcher) Fetch(ctx context.Context) (*entity.Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create feed request: %w", err)
	}

	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cannot read feed: %w", err)
	}

	catalog, err := Parse(data)
	if err != nil {
		return nil, err
	}

	f.log.Info("Fetched catalog", slog.Int("entries", len(catalog.Entries)))

	return catalog, nil
}

// Parse maps a feed document onto a catalog snapshot.
func Parse(data []byte) (*entity.Catalog, error) {
	var doc xmlPlugins
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cannot parse feed: %w", err)
	}

	catalog := &entity.Catalog{
		CacheCheck: doc.CacheCheck,
		Entries:    make([]*entity.CatalogEntry, 0, len(doc.Items)),
	}

	for _, item := range doc.Items {
		entry := &entity.CatalogEntry{
			Name:         item.Name,
			InternalName: item.InternalName,
			Version:      item.Version,
		}

		for _, p := range item.Platforms {
			entry.Platforms = append(entry.Platforms, entity.PlatformVariant{
				PlatformID:    p.PlatformID,
				Location:      p.Location,
				Signature:     p.Signature,
				PublishedDate: p.PublishedDate,
			})
		}

		catalog.Entries = append(catalog.Entries, entry)
	}

	return catalog, nil
}
