package scrape

import (
	"net/url"
	"strings"
)

// SiteName is a free string naming the tracker/site a magnet search result
// came from. A handful of known sites are defined for readability in logs
// and tests; the progress-frame parser accepts and forwards any string a
// plugin sends, since there is no authoritative registry of site names.
type SiteName = string

const (
	SiteSukebei SiteName = "sukebei"
	SiteNyaa    SiteName = "nyaa"
	SiteJavBus  SiteName = "javbus"
)

// MagnetResult is a single magnet-search hit, per spec.md §3.
type MagnetResult struct {
	Title      string   `json:"title"`
	MagnetLink string   `json:"magnet_link"`
	Size       string   `json:"size,omitempty"`
	FileCount  int      `json:"file_count,omitempty"`
	Date       string   `json:"date,omitempty"`
	Files      []string `json:"files,omitempty"`
}

// infoHash extracts the lowercased BitTorrent info hash from a magnet
// link's xt=urn:btih: parameter. Returns "" if the link can't be parsed or
// carries no such parameter — the caller treats that as "unparseable,
// retain the result" per spec.md §3/§8 P5.
func infoHash(magnetLink string) string {
	parsed, err := url.Parse(magnetLink)
	if err != nil {
		return ""
	}
	for _, xt := range parsed.Query()["xt"] {
		const prefix = "urn:btih:"
		if rest, ok := strings.CutPrefix(xt, prefix); ok {
			return strings.ToLower(rest)
		}
	}
	return ""
}

// DedupMagnets removes duplicate results by case-insensitive info hash,
// keeping the first occurrence of each hash and preserving relative order.
// A result whose hash cannot be parsed is always retained, since it has no
// identity to dedup against (property P5).
func DedupMagnets(results []MagnetResult) []MagnetResult {
	seen := make(map[string]bool, len(results))
	out := make([]MagnetResult, 0, len(results))

	for _, result := range results {
		hash := infoHash(result.MagnetLink)
		if hash == "" {
			out = append(out, result)
			continue
		}
		if seen[hash] {
			continue
		}
		seen[hash] = true
		out = append(out, result)
	}
	return out
}
