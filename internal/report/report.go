// Package report writes the human-facing summary of an upload run: a
// README.md listing every mirrored package with its public links, plus an
// HTML rendering of the same document.
package report

import (
	"bytes"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"go.abhg.dev/goldmark/frontmatter"

	"github.com/jgivc/qpkgmirror/internal/entity"
)

const (
	markdownFileName = "README.md"
	htmlFileName     = "README.html"

	filePerm = 0o644
)

type Generator struct {
	fs  afero.Fs
	dir string
	md  goldmark.Markdown
	now func() time.Time
	log *slog.Logger
}

func NewGenerator(dir string, log *slog.Logger) *Generator {
	return NewGeneratorWithFS(afero.NewOsFs(), dir, log)
}

func NewGeneratorWithFS(fs afero.Fs, dir string, log *slog.Logger) *Generator {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.Table,
			&frontmatter.Extender{},
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	return &Generator{
		fs:  fs,
		dir: dir,
		md:  md,
		now: time.Now,
		log: log.With(slog.String("item", "ReportGenerator")),
	}
}

// Generate writes README.md and README.html for the given report entries.
func (g *Generator) Generate(runID string, entries []entity.ReportEntry) error {
	source := g.render(runID, entries)

	mdPath := filepath.Join(g.dir, markdownFileName)
	if err := afero.WriteFile(g.fs, mdPath, []byte(source), filePerm); err != nil {
		return fmt.Errorf("cannot write %s: %w", markdownFileName, err)
	}

	var buf bytes.Buffer
	if err := g.md.Convert([]byte(source), &buf); err != nil {
		return fmt.Errorf("cannot convert markdown: %w", err)
	}

	htmlPath := filepath.Join(g.dir, htmlFileName)
	if err := afero.WriteFile(g.fs, htmlPath, buf.Bytes(), filePerm); err != nil {
		return fmt.Errorf("cannot write %s: %w", htmlFileName, err)
	}

	g.log.Info("Report written", slog.String("path", mdPath), slog.Int("entries", len(entries)))

	return nil
}

func (g *Generator) render(runID string, entries []entity.ReportEntry) string {
	var b strings.Builder

	b.WriteString("---\n")
	fmt.Fprintf(&b, "title: Package mirror\nrun_id: %s\ngenerated_at: %s\n", runID, g.now().Format(time.RFC3339))
	b.WriteString("---\n\n")

	b.WriteString("# Package mirror\n\n")
	if len(entries) == 0 {
		b.WriteString("No packages mirrored yet.\n")

		return b.String()
	}

	b.WriteString("| Product | Version | Architecture | Size | Link |\n")
	b.WriteString("| --- | --- | --- | --- | --- |\n")

	for _, e := range entries {
		link := e.RemoteURL
		if e.ShortURL != "" {
			link = e.ShortURL
		}

		fmt.Fprintf(&b, "| %s | %s | %s | %s | [%s](%s) |\n",
			e.ProductName, e.Version, e.Architecture, formatSize(e.FileSize), e.Filename, link)
	}

	return b.String()
}

func formatSize(n int64) string {
	const unit = 1024

	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
