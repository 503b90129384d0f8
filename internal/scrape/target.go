// Package scrape implements the Scrape Pipeline (C4): target assembly,
// plugin invocation, progress aggregation into the session store, and
// merge-mode result application onto the catalog repository.
package scrape

import (
	"time"

	"github.com/ashbourne-dev/reelvault/internal/database"
)

// TargetKind discriminates the disjoint ways a ScrapeTarget identifies what
// to scrape. Only one of the associated fields on ScrapeTarget is
// meaningful for a given Kind — this is Go's idiom for a sum type: a tagged
// struct rather than a union, since the language has no native variant type.
type TargetKind int

const (
	// TargetCode identifies a media by its release/SKU code, e.g. "ABC-123".
	TargetCode TargetKind = iota
	// TargetSeriesDate identifies a media by series name plus release date.
	TargetSeriesDate
	// TargetSeriesTitle identifies a media by series name plus episode
	// title, a variant only file-scan batches produce.
	TargetSeriesTitle
	// TargetTitleYear identifies a media by title plus an optional year.
	TargetTitleYear
	// TargetActorName identifies an actor by name, for actor scrapes.
	TargetActorName
)

// ContentType narrows a media target to a scene or a feature-length movie.
type ContentType string

const (
	ContentTypeScene ContentType = "Scene"
	ContentTypeMovie ContentType = "Movie"
	ContentTypeUnset ContentType = ""
)

// ScrapeTarget is the transient value handed to a plugin. Exactly one of
// the key variants is populated for a media target, selected by precedence
// in NewMediaTarget/NewFileTarget; an actor target only ever has Kind ==
// TargetActorName and ActorName populated.
type ScrapeTarget struct {
	Kind TargetKind

	// MediaID is the catalog row this target resolves to, empty for a
	// fresh multi-result creation or a pure magnet search.
	MediaID string

	Code string

	SeriesName  string
	ReleaseDate time.Time

	Title string
	Year  int

	ActorName string
	ActorID   string

	ContentType ContentType
	Studio      string
	Series      string
}

// mediaIdentity is the subset of a catalog row NewMediaTarget needs to pick
// a Kind by precedence: code, then (series, release_date), then (title,
// year?).
type mediaIdentity struct {
	MediaID     string
	Code        string
	SeriesName  string
	ReleaseDate *time.Time
	Title       string
	ContentType ContentType
	Studio      string
	Series      string
}

// NewMediaTarget assembles a ScrapeTarget from a catalog row's identity
// fields, in the precedence order the pipeline's target assembly rule
// requires: code wins if present; else (series, release_date); else
// (title, year?). Returns false if none of the three key variants is
// available — the caller counts this media as failed without invoking a
// plugin.
func NewMediaTarget(identity mediaIdentity) (ScrapeTarget, bool) {
	target := ScrapeTarget{
		MediaID:     identity.MediaID,
		ContentType: identity.ContentType,
		Studio:      identity.Studio,
		Series:      identity.Series,
	}

	switch {
	case identity.Code != "":
		target.Kind = TargetCode
		target.Code = identity.Code
		return target, true
	case identity.SeriesName != "" && identity.ReleaseDate != nil:
		target.Kind = TargetSeriesDate
		target.SeriesName = identity.SeriesName
		target.ReleaseDate = *identity.ReleaseDate
		return target, true
	case identity.Title != "":
		target.Kind = TargetTitleYear
		target.Title = identity.Title
		if identity.ReleaseDate != nil {
			target.Year = identity.ReleaseDate.Year()
		}
		return target, true
	default:
		return ScrapeTarget{}, false
	}
}

// NewFileTarget assembles a ScrapeTarget from a scanned file's parsed
// naming hints, in the file-batch precedence order: code, (series, date),
// (series, title), then title[+year]. Returns false when the path yielded
// no usable hint at all.
func NewFileTarget(file *database.ScannedFile) (ScrapeTarget, bool) {
	var target ScrapeTarget
	if file.MediaID != nil {
		target.MediaID = *file.MediaID
	}

	switch {
	case file.CodeHint != "":
		target.Kind = TargetCode
		target.Code = file.CodeHint
		return target, true
	case file.SeriesHint != "" && file.DateHint != nil:
		target.Kind = TargetSeriesDate
		target.SeriesName = file.SeriesHint
		target.ReleaseDate = *file.DateHint
		return target, true
	case file.SeriesHint != "" && file.TitleHint != "":
		target.Kind = TargetSeriesTitle
		target.SeriesName = file.SeriesHint
		target.Title = file.TitleHint
		return target, true
	case file.TitleHint != "":
		target.Kind = TargetTitleYear
		target.Title = file.TitleHint
		target.Year = file.YearHint
		return target, true
	default:
		return ScrapeTarget{}, false
	}
}

// NewActorTarget builds a target for an actor scrape.
func NewActorTarget(actorID, name string) ScrapeTarget {
	return ScrapeTarget{Kind: TargetActorName, ActorID: actorID, ActorName: name}
}
