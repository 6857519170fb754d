// Package discover builds an asset manifest by scanning a rendered page for
// the images and videos it references.
package discover

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"github.com/dtnitsch/kanstar-preload/models"
)

// PageFetcher returns raw page HTML. *fetcher.Fetcher satisfies it.
type PageFetcher interface {
	GetHtmlBytes(ctx context.Context, url string) ([]byte, error)
}

var (
	bgURLPattern = regexp.MustCompile(`background(?:-image)?\s*:[^;]*url\(\s*['"]?([^'")]+)['"]?\s*\)`)
	keyCleaner   = regexp.MustCompile(`[^A-Z0-9]+`)
)

// Page fetches pageURL and scans it.
func Page(ctx context.Context, f PageFetcher, pageURL string, logger *slog.Logger) (*models.AssetManifest, error) {
	body, err := f.GetHtmlBytes(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	return FromHTML(bytes.NewReader(body), pageURL, logger)
}

// FromHTML scans an HTML document. Locators are resolved against pageURL.
//
// Critical assets are images marked data-critical, <link rel=preload as=image>
// and inline background images. When none exist the page's lead image (as
// reported by readability metadata) is promoted to critical. Other <img>
// elements are secondary; <video> elements with a poster become video entries.
func FromHTML(r io.Reader, pageURL string, logger *slog.Logger) (*models.AssetManifest, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	base, err := url.Parse(pageURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid page URL %q", pageURL)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	s := &scan{
		base:   base,
		logger: logger,
		seen:   make(map[string]bool),
		keys:   make(map[string]bool),
		m: &models.AssetManifest{
			Critical: make(map[string]string),
			Images:   make(map[string]string),
			Videos:   make(map[string]models.VideoAsset),
		},
	}

	doc.Find(`link[rel="preload"][as="image"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		s.add(models.TierCritical, sel.AttrOr("data-asset", ""), href)
	})
	doc.Find("[style]").Each(func(_ int, sel *goquery.Selection) {
		style, _ := sel.Attr("style")
		if m := bgURLPattern.FindStringSubmatch(style); m != nil {
			s.add(models.TierCritical, sel.AttrOr("data-asset", ""), m[1])
		}
	})
	doc.Find("img[data-critical]").Each(func(_ int, sel *goquery.Selection) {
		s.add(models.TierCritical, sel.AttrOr("data-asset", ""), imgSrc(sel))
	})

	if len(s.m.Critical) == 0 {
		if lead := leadImage(raw, base, logger); lead != "" {
			s.add(models.TierCritical, "BACKGROUND", lead)
		}
	}

	doc.Find("video").Each(func(_ int, sel *goquery.Selection) {
		s.addVideo(sel)
	})
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		if _, critical := sel.Attr("data-critical"); critical {
			return
		}
		s.add(models.TierSecondary, sel.AttrOr("data-asset", ""), imgSrc(sel))
	})

	if err := s.m.Validate(); err != nil {
		return nil, fmt.Errorf("no usable assets on %s: %w", pageURL, err)
	}
	logger.Info("Discovered assets",
		"page", pageURL,
		"critical", len(s.m.Critical),
		"images", len(s.m.Images),
		"videos", len(s.m.Videos))
	return s.m, nil
}

type scan struct {
	base   *url.URL
	logger *slog.Logger
	m      *models.AssetManifest
	seen   map[string]bool // resolved locators already in the manifest
	keys   map[string]bool
}

func (s *scan) add(tier models.Tier, key, ref string) {
	loc, ok := s.resolve(ref)
	if !ok || s.seen[loc] {
		return
	}
	s.seen[loc] = true
	key = s.uniqueKey(key, loc)
	if tier == models.TierCritical {
		s.m.Critical[key] = loc
	} else {
		s.m.Images[key] = loc
	}
}

func (s *scan) addVideo(sel *goquery.Selection) {
	poster, ok := s.resolve(sel.AttrOr("poster", ""))
	if !ok {
		s.logger.Debug("Skipping video without poster")
		return
	}
	if s.seen[poster] {
		return
	}
	s.seen[poster] = true

	v := models.VideoAsset{
		Fallback: poster,
		Alt:      firstNonEmpty(sel.AttrOr("aria-label", ""), sel.AttrOr("title", "")),
	}
	if src, ok := s.resolve(sel.AttrOr("src", "")); ok {
		v.MP4 = src
	}
	sel.Find("source").Each(func(_ int, src *goquery.Selection) {
		loc, ok := s.resolve(src.AttrOr("src", ""))
		if !ok {
			return
		}
		switch {
		case strings.Contains(src.AttrOr("type", ""), "webm") || strings.HasSuffix(loc, ".webm"):
			v.WebM = loc
		case strings.Contains(src.AttrOr("type", ""), "mp4") || strings.HasSuffix(loc, ".mp4"):
			v.MP4 = loc
		}
	})
	s.m.Videos[s.uniqueKey(sel.AttrOr("data-asset", ""), poster)] = v
}

// resolve makes ref absolute. Inline data URIs and blanks are rejected.
func (s *scan) resolve(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		s.logger.Debug("Skipping unparsable locator", "ref", ref, "error", err)
		return "", false
	}
	return s.base.ResolveReference(u).String(), true
}

func (s *scan) uniqueKey(explicit, loc string) string {
	key := KeyFor(explicit)
	if key == "" {
		u, _ := url.Parse(loc)
		key = KeyFor(strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path)))
	}
	if key == "" {
		key = "ASSET"
	}
	candidate := key
	for i := 2; s.keys[candidate]; i++ {
		candidate = fmt.Sprintf("%s_%d", key, i)
	}
	s.keys[candidate] = true
	return candidate
}

// KeyFor turns a file stem or label into a manifest key: "cosmic-background" -> "COSMIC_BACKGROUND".
func KeyFor(name string) string {
	return strings.Trim(keyCleaner.ReplaceAllString(strings.ToUpper(name), "_"), "_")
}

func imgSrc(sel *goquery.Selection) string {
	if src := sel.AttrOr("src", ""); src != "" {
		return src
	}
	return sel.AttrOr("data-src", "")
}

func leadImage(raw []byte, base *url.URL, logger *slog.Logger) string {
	// Let go-readability pick the article's lead image from its metadata
	parser := readability.NewParser()
	article, err := parser.Parse(bytes.NewReader(raw), base)
	if err != nil {
		logger.Debug("No readable article for lead image", "error", err)
		return ""
	}
	return article.Image
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Relativize rewrites locators under base as root-relative paths so the
// manifest can later be resolved against a different host.
func Relativize(m *models.AssetManifest, base string) (*models.AssetManifest, error) {
	b, err := url.Parse(base)
	if err != nil || b.Scheme == "" || b.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", base)
	}
	rel := func(loc string) string {
		u, err := url.Parse(loc)
		if err != nil || u.Scheme != b.Scheme || u.Host != b.Host {
			return loc
		}
		out := u.EscapedPath()
		if u.RawQuery != "" {
			out += "?" + u.RawQuery
		}
		return out
	}

	out := &models.AssetManifest{
		Critical: make(map[string]string, len(m.Critical)),
		Images:   make(map[string]string, len(m.Images)),
		Videos:   make(map[string]models.VideoAsset, len(m.Videos)),
	}
	for k, v := range m.Critical {
		out.Critical[k] = rel(v)
	}
	for k, v := range m.Images {
		out.Images[k] = rel(v)
	}
	for k, v := range m.Videos {
		out.Videos[k] = models.VideoAsset{WebM: rel(v.WebM), MP4: rel(v.MP4), Fallback: rel(v.Fallback), Alt: v.Alt}
	}
	return out, nil
}
