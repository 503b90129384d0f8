package scrape

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ashbourne-dev/reelvault/internal/database"
)

// MergeMode selects how a scraped Payload is applied onto a stored Media
// row: replace (scraped non-empty wins) or supplement (stored non-empty
// wins).
type MergeMode string

const (
	ModeReplace    MergeMode = "replace"
	ModeSupplement MergeMode = "supplement"
)

// ParseMergeMode validates a mode string from an HTTP request body.
func ParseMergeMode(s string) (MergeMode, error) {
	switch MergeMode(s) {
	case ModeReplace, ModeSupplement:
		return MergeMode(s), nil
	default:
		return "", fmt.Errorf("invalid mode %q, must be %q or %q", s, ModeReplace, ModeSupplement)
	}
}

// VideoVariant is one entry of preview_video_urls: a quality label and its
// source URL.
type VideoVariant struct {
	Quality string `json:"quality"`
	URL     string `json:"url"`
}

// DownloadLink is one entry of download_links.
type DownloadLink struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	LinkType string `json:"link_type,omitempty"`
	Size     string `json:"size,omitempty"`
	Password string `json:"password,omitempty"`
}

// CrewMember is one entry of the crew list; "director" is one role among
// others, singled out by ApplyResult per its own replace/supplement rule.
type CrewMember struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// ResultKind discriminates a ScrapeResult's two shapes.
type ResultKind int

const (
	ResultSingle ResultKind = iota
	ResultMultiple
)

// ScrapeResult is the sum type a plugin's response decodes into: either one
// Payload or a disambiguation envelope of several candidates. Modeling this
// as a tagged struct rather than two independent types keeps every call
// site exhaustive over both shapes.
type ScrapeResult struct {
	Kind       ResultKind
	Single     *Payload
	Multiple   []Payload
	TotalCount int
	Message    string
}

// Payload is the heterogeneous bag of fields a plugin may return for one
// scrape hit. Every field is optional; a zero value means "the plugin said
// nothing about this field", never "the plugin said empty" — that
// distinction is what makes empty-never-overwrites (property P4) correct.
type Payload struct {
	Source        string     `json:"source,omitempty"`
	Code          string     `json:"code,omitempty"`
	Title         string     `json:"title,omitempty"`
	OriginalTitle string     `json:"original_title,omitempty"`
	Year          int        `json:"year,omitempty"`
	ReleaseDate   *time.Time `json:"release_date,omitempty"`
	MediaType     string     `json:"media_type,omitempty"`
	Rating        float64    `json:"rating,omitempty"`
	Runtime       int        `json:"runtime,omitempty"`
	Overview      string     `json:"overview,omitempty"`

	PosterURL     string   `json:"poster_url,omitempty"`
	BackdropURLs  []string `json:"-"` // normalized from string-or-array backdrop_url by the caller
	CoverVideoURL string   `json:"cover_video_url,omitempty"`

	Studio string `json:"studio,omitempty"`
	Series string `json:"series,omitempty"`

	Director string `json:"director,omitempty"`
	Language string `json:"language,omitempty"`
	Country  string `json:"country,omitempty"`

	Genres           []string       `json:"genres,omitempty"`
	Actors           []string       `json:"actors,omitempty"`
	PreviewURLs      []string       `json:"preview_urls,omitempty"`
	PreviewVideoURLs []VideoVariant `json:"-"` // normalized from {quality,url} or raw-string forms by the caller
	DownloadLinks    []DownloadLink `json:"download_links,omitempty"`
}

// scalarField describes one scalar column of Media and how to read/write
// it, so ApplyResult can drive both merge modes from one table instead of
// writing the replace/supplement branches out per field — the schema-driven
// approach that prevents a field added to one mode but forgotten in the
// other.
type scalarField[T comparable] struct {
	name       string
	get        func(*Payload) T
	getCurrent func(*database.Media) T
	set        func(*database.Media, T)
}

func applyScalar[T comparable](mode MergeMode, media *database.Media, payload *Payload, f scalarField[T]) bool {
	var zero T
	val := f.get(payload)
	if val == zero {
		return false
	}
	if mode == ModeReplace {
		f.set(media, val)
		return true
	}
	if f.getCurrent(media) == zero {
		f.set(media, val)
		return true
	}
	return false
}

// listField is the list-valued analog of scalarField. identity returns the
// key used to dedup entries during a supplement merge; an empty identity
// means "never dedup this item against another".
type listField[T any] struct {
	name       string
	get        func(*Payload) []T
	getCurrent func(*database.Media) []T
	set        func(*database.Media, []T)
	identity   func(T) string
}

func applyList[T any](mode MergeMode, media *database.Media, payload *Payload, f listField[T]) bool {
	val := f.get(payload)
	if len(val) == 0 {
		return false
	}
	if mode == ModeReplace {
		f.set(media, val)
		return true
	}

	current := f.getCurrent(media)
	seen := make(map[string]bool, len(current)+len(val))
	merged := make([]T, 0, len(current)+len(val))
	for _, item := range current {
		id := f.identity(item)
		if id != "" {
			seen[id] = true
		}
		merged = append(merged, item)
	}

	changed := false
	for _, item := range val {
		id := f.identity(item)
		if id != "" && seen[id] {
			continue
		}
		if id != "" {
			seen[id] = true
		}
		merged = append(merged, item)
		changed = true
	}
	if changed {
		f.set(media, merged)
	}
	return changed
}

func scalarFields() []func(MergeMode, *database.Media, *Payload) bool {
	return []func(MergeMode, *database.Media, *Payload) bool{
		applier(scalarField[string]{"code", func(p *Payload) string { return p.Code }, func(m *database.Media) string { return m.Code }, func(m *database.Media, v string) { m.Code = v }}),
		applier(scalarField[string]{"title", func(p *Payload) string { return p.Title }, func(m *database.Media) string { return m.Title }, func(m *database.Media, v string) { m.Title = v }}),
		applier(scalarField[string]{"original_title", func(p *Payload) string { return p.OriginalTitle }, func(m *database.Media) string { return m.OriginalTitle }, func(m *database.Media, v string) { m.OriginalTitle = v }}),
		applier(scalarField[string]{"overview", func(p *Payload) string { return p.Overview }, func(m *database.Media) string { return m.Overview }, func(m *database.Media, v string) { m.Overview = v }}),
		applier(scalarField[string]{"poster_url", func(p *Payload) string { return p.PosterURL }, func(m *database.Media) string { return m.PosterURL }, func(m *database.Media, v string) { m.PosterURL = v }}),
		applier(scalarField[string]{"media_type", func(p *Payload) string { return p.MediaType }, func(m *database.Media) string { return m.MediaType }, func(m *database.Media, v string) { m.MediaType = v }}),
		applier(scalarField[string]{"language", func(p *Payload) string { return p.Language }, func(m *database.Media) string { return m.Language }, func(m *database.Media, v string) { m.Language = v }}),
		applier(scalarField[string]{"country", func(p *Payload) string { return p.Country }, func(m *database.Media) string { return m.Country }, func(m *database.Media, v string) { m.Country = v }}),
		applier(scalarField[float64]{"rating", func(p *Payload) float64 { return p.Rating }, func(m *database.Media) float64 { return m.Rating }, func(m *database.Media, v float64) { m.Rating = v }}),
		applier(scalarField[int]{"runtime", func(p *Payload) int { return p.Runtime }, func(m *database.Media) int { return m.Runtime }, func(m *database.Media, v int) { m.Runtime = v }}),
		applier(scalarField[*time.Time]{"release_date", func(p *Payload) *time.Time { return p.ReleaseDate }, func(m *database.Media) *time.Time { return m.ReleaseDate }, func(m *database.Media, v *time.Time) { m.ReleaseDate = v }}),
	}
}

func applier[T comparable](f scalarField[T]) func(MergeMode, *database.Media, *Payload) bool {
	return func(mode MergeMode, media *database.Media, payload *Payload) bool {
		return applyScalar(mode, media, payload, f)
	}
}

func listAppliers() []func(MergeMode, *database.Media, *Payload) bool {
	identityOf := func(s string) string { return strings.ToLower(s) }

	genres := listField[string]{
		name:       "genres",
		get:        func(p *Payload) []string { return p.Genres },
		getCurrent: func(m *database.Media) []string { return decodeStrings(m.Genres) },
		set:        func(m *database.Media, v []string) { m.Genres = encodeJSON(v) },
		identity:   identityOf,
	}
	previewURLs := listField[string]{
		name:       "preview_urls",
		get:        func(p *Payload) []string { return p.PreviewURLs },
		getCurrent: func(m *database.Media) []string { return decodeStrings(m.PreviewURLs) },
		set:        func(m *database.Media, v []string) { m.PreviewURLs = encodeJSON(v) },
		identity:   identityOf,
	}
	backdrops := listField[string]{
		name:       "backdrop_url",
		get:        func(p *Payload) []string { return p.BackdropURLs },
		getCurrent: func(m *database.Media) []string { return decodeStrings(m.BackdropURL) },
		set:        func(m *database.Media, v []string) { m.BackdropURL = encodeJSON(v) },
		identity:   identityOf,
	}
	previewVideos := listField[VideoVariant]{
		name:       "preview_video_urls",
		get:        func(p *Payload) []VideoVariant { return p.PreviewVideoURLs },
		getCurrent: func(m *database.Media) []VideoVariant { return decodeVideoVariants(m.PreviewVideoURLs) },
		set:        func(m *database.Media, v []VideoVariant) { m.PreviewVideoURLs = encodeJSON(v) },
		identity:   func(v VideoVariant) string { return v.URL },
	}
	downloadLinks := listField[DownloadLink]{
		name:       "download_links",
		get:        func(p *Payload) []DownloadLink { return p.DownloadLinks },
		getCurrent: func(m *database.Media) []DownloadLink { return decodeDownloadLinks(m.DownloadLinks) },
		set:        func(m *database.Media, v []DownloadLink) { m.DownloadLinks = encodeJSON(v) },
		identity:   func(d DownloadLink) string { return d.URL },
	}

	return []func(MergeMode, *database.Media, *Payload) bool{
		func(mode MergeMode, m *database.Media, p *Payload) bool { return applyList(mode, m, p, genres) },
		func(mode MergeMode, m *database.Media, p *Payload) bool { return applyList(mode, m, p, previewURLs) },
		func(mode MergeMode, m *database.Media, p *Payload) bool { return applyList(mode, m, p, backdrops) },
		func(mode MergeMode, m *database.Media, p *Payload) bool { return applyList(mode, m, p, previewVideos) },
		func(mode MergeMode, m *database.Media, p *Payload) bool { return applyList(mode, m, p, downloadLinks) },
	}
}

// applyDirector implements the field's special rule: in replace mode the
// scraped director overwrites any existing "director" crew entry while
// every other crew entry is preserved; in supplement mode an existing
// director entry wins outright.
func applyDirector(mode MergeMode, media *database.Media, payload *Payload) bool {
	if payload.Director == "" {
		return false
	}
	crew := decodeCrew(media.Crew)

	switch mode {
	case ModeReplace:
		kept := make([]CrewMember, 0, len(crew)+1)
		for _, member := range crew {
			if !strings.EqualFold(member.Role, "director") {
				kept = append(kept, member)
			}
		}
		kept = append(kept, CrewMember{Name: payload.Director, Role: "director"})
		media.Crew = encodeJSON(kept)
		return true
	case ModeSupplement:
		for _, member := range crew {
			if strings.EqualFold(member.Role, "director") {
				return false
			}
		}
		crew = append(crew, CrewMember{Name: payload.Director, Role: "director"})
		media.Crew = encodeJSON(crew)
		return true
	default:
		return false
	}
}

// ApplyResult applies payload onto media under mode, covering the fields of
// scalarFields and listAppliers plus the director; payload.Year and
// payload.CoverVideoURL are not written onto media. It reports whether anything changed so callers can
// skip an UpdateMedia round-trip when a result was entirely redundant.
// Studio/Series are resolved separately by the pipeline (they require a
// repository lookup-or-create, not a pure field write) and actor names are
// returned to the caller via payload.Actors for the actor-sync step.
func ApplyResult(mode MergeMode, media *database.Media, payload *Payload) bool {
	changed := false
	for _, apply := range scalarFields() {
		if apply(mode, media, payload) {
			changed = true
		}
	}
	for _, apply := range listAppliers() {
		if apply(mode, media, payload) {
			changed = true
		}
	}
	if applyDirector(mode, media, payload) {
		changed = true
	}
	if changed {
		media.UpdatedAt = time.Now()
	}
	return changed
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func decodeVideoVariants(raw string) []VideoVariant {
	if raw == "" {
		return nil
	}
	var out []VideoVariant
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func decodeDownloadLinks(raw string) []DownloadLink {
	if raw == "" {
		return nil
	}
	var out []DownloadLink
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func decodeCrew(raw string) []CrewMember {
	if raw == "" {
		return nil
	}
	var out []CrewMember
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func encodeJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
