// Package fsadapter turns a content folder into a Bundle. Each folder holds
// one descriptor markdown file: YAML frontmatter carries the bundle name and
// its link list, the markdown body becomes the bundle's HTML page.
package fsadapter

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/enhbat/bundlezip/internal/config"
	"github.com/enhbat/bundlezip/internal/entity"
	"github.com/enhbat/bundlezip/internal/util"
	"github.com/spf13/afero"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"go.abhg.dev/goldmark/frontmatter"
)

var (
	//go:embed templates/page.html
	defaultPageTemplateContent []byte
)

type PageContext struct {
	URL         string
	ContentHTML template.HTML
	*entity.Bundle
}

// Frontmatter is the descriptor header. Links may be bare URL strings or
// name/url maps, both are accepted (legacy descriptor format).
type Frontmatter struct {
	Name    string `yaml:"name"`
	Enabled *bool  `yaml:"enabled"`
	Links   []any  `yaml:"links"`
}

type fsAdapter struct {
	fs   afero.Fs
	url  string
	cfg  *config.IndexerConfig
	md   goldmark.Markdown
	tmpl *template.Template

	log *slog.Logger
}

func NewFSAdapter(url string, cfg *config.IndexerConfig, log *slog.Logger) (*fsAdapter, error) {
	return NewFSAdapterWithFS(afero.NewOsFs(), url, cfg, log)
}

func NewFSAdapterWithFS(fs afero.Fs, url string, cfg *config.IndexerConfig, log *slog.Logger) (*fsAdapter, error) {
	tmpl, err := template.New("page").Parse(string(defaultPageTemplateContent))
	if err != nil {
		return nil, fmt.Errorf("cannot parse page template: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			&frontmatter.Extender{},
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	return &fsAdapter{
		fs:   fs,
		url:  url,
		cfg:  cfg,
		md:   md,
		tmpl: tmpl,
		log:  log,
	}, nil
}

func (a *fsAdapter) ToBundle(folderPath string) (*entity.Bundle, error) {
	if strings.Contains(folderPath, "..") {
		return nil, fmt.Errorf("invalid folder path")
	}

	data, err := afero.ReadFile(a.fs, filepath.Join(folderPath, a.cfg.DescFileName))
	if err != nil {
		return nil, fmt.Errorf("cannot read bundle descriptor: %w", err)
	}

	var buf bytes.Buffer
	pc := parser.NewContext()
	if err := a.md.Convert(data, &buf, parser.WithContext(pc)); err != nil {
		return nil, fmt.Errorf("cannot convert descriptor markdown: %w", err)
	}

	var meta Frontmatter
	if fm := frontmatter.Get(pc); fm != nil {
		if err := fm.Decode(&meta); err != nil {
			return nil, fmt.Errorf("cannot decode descriptor frontmatter: %w", err)
		}
	}

	links := normalizeLinks(meta.Links)
	if len(links) < 1 {
		return nil, fmt.Errorf("bundle has no links")
	}

	bundle := &entity.Bundle{
		ID:         util.GetIDFromString(&folderPath),
		Name:       filepath.Base(folderPath),
		Enabled:    true,
		Links:      links,
		SourcePath: folderPath,
		CreatedAt:  time.Now(),
	}

	if meta.Name != "" {
		bundle.Name = meta.Name
	}
	if meta.Enabled != nil {
		bundle.Enabled = *meta.Enabled
	}

	content, err := a.buildPage(&PageContext{
		URL:         a.url,
		ContentHTML: template.HTML(buf.String()),
		Bundle:      bundle,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot build page: %w", err)
	}

	bundle.PageContent = content
	bundle.PageHash = util.GetIDFromString(&content)

	return bundle, nil
}

func (a *fsAdapter) buildPage(ctx *PageContext) (string, error) {
	var buf bytes.Buffer
	if err := a.tmpl.Execute(&buf, ctx); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// normalizeLinks accepts both descriptor link shapes. Entries without a URL
// are dropped.
func normalizeLinks(raw []any) []entity.Link {
	links := make([]entity.Link, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			if v != "" {
				links = append(links, entity.Link{URL: v})
			}
		case map[string]any:
			link := entity.Link{Name: asString(v["name"]), URL: asString(v["url"])}
			if link.URL != "" {
				links = append(links, link)
			}
		case map[any]any:
			link := entity.Link{Name: asString(v["name"]), URL: asString(v["url"])}
			if link.URL != "" {
				links = append(links, link)
			}
		}
	}

	return links
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}

	return ""
}
