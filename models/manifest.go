package models

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tier is the priority class of an asset.
type Tier string

const (
	TierCritical  Tier = "critical"
	TierSecondary Tier = "secondary"
)

// VideoAsset is a video-capable entry. Only Fallback is an image and can be preloaded.
type VideoAsset struct {
	WebM     string `yaml:"webm" json:"webm"`
	MP4      string `yaml:"mp4" json:"mp4"`
	Fallback string `yaml:"fallback" json:"fallback"`
	Alt      string `yaml:"alt,omitempty" json:"alt,omitempty"`
}

// AssetManifest maps symbolic asset keys to source locators, partitioned into tiers.
// It is treated as immutable once loaded.
type AssetManifest struct {
	Critical map[string]string     `yaml:"critical" json:"critical"`
	Images   map[string]string     `yaml:"images" json:"images"`
	Videos   map[string]VideoAsset `yaml:"videos,omitempty" json:"videos,omitempty"`
}

// Asset is one preloadable entry of the manifest.
type Asset struct {
	Key  string
	URL  string
	Tier Tier
}

// LoadManifest reads and validates a YAML manifest file.
func LoadManifest(path string) (*AssetManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates YAML manifest bytes.
func ParseManifest(data []byte) (*AssetManifest, error) {
	var m AssetManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate rejects empty keys and locators.
func (m *AssetManifest) Validate() error {
	var errs []error
	check := func(section, key, src string) {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Errorf("%s: empty asset key", section))
		}
		if strings.TrimSpace(src) == "" {
			errs = append(errs, fmt.Errorf("%s.%s: empty locator", section, key))
		}
	}
	for k, v := range m.Critical {
		check("critical", k, v)
	}
	for k, v := range m.Images {
		check("images", k, v)
	}
	for k, v := range m.Videos {
		check("videos", k, v.Fallback)
	}
	if len(m.Critical)+len(m.Images)+len(m.Videos) == 0 {
		errs = append(errs, errors.New("manifest declares no assets"))
	}
	return errors.Join(errs...)
}

// CriticalAssets returns the critical tier ordered by key.
func (m *AssetManifest) CriticalAssets() []Asset {
	return sortedAssets(m.Critical, TierCritical)
}

// SecondaryAssets returns every image plus the still-image fallback of every video, ordered by key.
func (m *AssetManifest) SecondaryAssets() []Asset {
	assets := sortedAssets(m.Images, TierSecondary)
	videoKeys := make([]string, 0, len(m.Videos))
	for k := range m.Videos {
		videoKeys = append(videoKeys, k)
	}
	sort.Strings(videoKeys)
	for _, k := range videoKeys {
		assets = append(assets, Asset{Key: k, URL: m.Videos[k].Fallback, Tier: TierSecondary})
	}
	return assets
}

// Total is the number of preloadable entries across both tiers.
func (m *AssetManifest) Total() int {
	return len(m.Critical) + len(m.Images) + len(m.Videos)
}

// Lookup returns the locator for a key in any section. Videos resolve to their fallback.
func (m *AssetManifest) Lookup(key string) (string, bool) {
	if v, ok := m.Critical[key]; ok {
		return v, true
	}
	if v, ok := m.Images[key]; ok {
		return v, true
	}
	if v, ok := m.Videos[key]; ok {
		return v.Fallback, true
	}
	return "", false
}

// Resolve returns a copy with every relative locator made absolute against base.
func (m *AssetManifest) Resolve(base string) (*AssetManifest, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid base URL: %q must be absolute", base)
	}

	var resolveErr error
	resolve := func(ref string) string {
		if ref == "" {
			return ref
		}
		u, err := url.Parse(ref)
		if err != nil {
			resolveErr = errors.Join(resolveErr, fmt.Errorf("invalid locator %q: %w", ref, err))
			return ref
		}
		return baseURL.ResolveReference(u).String()
	}

	out := &AssetManifest{
		Critical: make(map[string]string, len(m.Critical)),
		Images:   make(map[string]string, len(m.Images)),
		Videos:   make(map[string]VideoAsset, len(m.Videos)),
	}
	for k, v := range m.Critical {
		out.Critical[k] = resolve(v)
	}
	for k, v := range m.Images {
		out.Images[k] = resolve(v)
	}
	for k, v := range m.Videos {
		out.Videos[k] = VideoAsset{
			WebM:     resolve(v.WebM),
			MP4:      resolve(v.MP4),
			Fallback: resolve(v.Fallback),
			Alt:      v.Alt,
		}
	}
	if resolveErr != nil {
		return nil, resolveErr
	}
	return out, nil
}

func sortedAssets(section map[string]string, tier Tier) []Asset {
	keys := make([]string, 0, len(section))
	for k := range section {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	assets := make([]Asset, 0, len(keys))
	for _, k := range keys {
		assets = append(assets, Asset{Key: k, URL: section[k], Tier: tier})
	}
	return assets
}
