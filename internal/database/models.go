// Package database holds the GORM schema and repository for the media
// catalog the Scrape Pipeline reads from and writes back to.
package database

import (
	"time"
)

// Media is a single catalogued release (the unit a scrape target resolves
// to). Fields that hold heterogeneous or variable-length scraped data are
// stored as JSON-encoded text, the same convention the reference catalog
// schema uses for genres/cast/external IDs.
type Media struct {
	ID            string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Code          string     `gorm:"index" json:"code"` // release/SKU code, e.g. studio-assigned identifier
	Title         string     `gorm:"not null;index" json:"title"`
	OriginalTitle string     `json:"original_title"`
	Overview      string     `gorm:"type:text" json:"overview"`
	ReleaseDate   *time.Time `json:"release_date"`

	StudioID *string `gorm:"type:varchar(36);index" json:"studio_id,omitempty"`
	Studio   *Studio `gorm:"foreignKey:StudioID" json:"studio,omitempty"`
	SeriesID *string `gorm:"type:varchar(36);index" json:"series_id,omitempty"`
	Series   *Series `gorm:"foreignKey:SeriesID" json:"series,omitempty"`

	MediaType string `json:"media_type"` // "scene" | "movie"
	Rating    float64 `json:"rating"`
	Runtime   int     `json:"runtime"` // minutes
	Language  string  `json:"language"`
	Country   string  `json:"country"`

	PosterURL     string `json:"poster_url"`
	BackdropURL   string `gorm:"type:text" json:"backdrop_url"` // JSON array of strings
	CoverURL      string `json:"cover_url"`
	CoverVideoURL string `json:"cover_video_url"` // never cached, see internal/assetcache
	TrailerURL    string `json:"trailer_url"`

	Genres            string `gorm:"type:text" json:"genres"`              // JSON array of strings
	PreviewURLs       string `gorm:"type:text" json:"preview_urls"`        // JSON array of strings
	PreviewVideoURLs  string `gorm:"type:text" json:"preview_video_urls"`  // JSON array of {quality,url}
	DownloadLinks     string `gorm:"type:text" json:"download_links"`      // JSON array of {name,url,link_type,size,password}
	Crew              string `gorm:"type:text" json:"crew"`                // JSON array of {name, role}; "director" is one role
	ExternalIDs       string `gorm:"type:text" json:"external_ids"`        // JSON object
	Magnets           string `gorm:"type:text" json:"magnets"`             // JSON array of scrape.MagnetResult

	Matched       bool   `gorm:"index" json:"matched"` // false => candidate for auto_scrape_unmatched
	ScraperSource string `gorm:"index" json:"scraper_source,omitempty"` // plugin ID that last matched this row; resolves Cache stats' by_scraper breakdown

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Actor is a performer that can be linked to many Media rows.
type Actor struct {
	ID        string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string     `gorm:"not null;uniqueIndex" json:"name"`
	Birthdate *time.Time `json:"birthdate,omitempty"`
	ImageURL  string     `json:"image_url"`
	Aliases   string     `gorm:"type:text" json:"aliases"` // JSON array of strings

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Studio produces Media.
type Studio struct {
	ID   string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name string `gorm:"not null;uniqueIndex" json:"name"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Series groups related Media (e.g. a recurring collection).
type Series struct {
	ID   string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name string `gorm:"not null;uniqueIndex" json:"name"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActorMediaLink is the many-to-many join between Actor and Media, mirroring
// the reference catalog's Roles join table: a unique composite key prevents
// the same actor from being linked to the same media twice, which is what
// makes actor-sync idempotent.
type ActorMediaLink struct {
	ActorID string `gorm:"type:varchar(36);primaryKey" json:"actor_id"`
	MediaID string `gorm:"type:varchar(36);primaryKey" json:"media_id"`

	Actor Actor `gorm:"foreignKey:ActorID" json:"actor,omitempty"`
	Media Media `gorm:"foreignKey:MediaID" json:"media,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ScannedFile is a single file the library scanner discovered on disk, with
// whatever naming-convention hints it could parse out of the path. It is the
// external-collaborator input to auto_scrape_unmatched.
type ScannedFile struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Path        string     `gorm:"not null;uniqueIndex" json:"path"`
	CodeHint    string     `json:"code_hint,omitempty"`
	TitleHint   string     `json:"title_hint,omitempty"`
	YearHint    int        `json:"year_hint,omitempty"`
	SeriesHint  string     `json:"series_hint,omitempty"`
	DateHint    *time.Time `json:"date_hint,omitempty"`
	MediaID     *string    `gorm:"type:varchar(36);index" json:"media_id,omitempty"`
	LastScanned time.Time  `json:"last_scanned"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AllModels lists every table for AutoMigrate, in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&Studio{},
		&Series{},
		&Actor{},
		&Media{},
		&ActorMediaLink{},
		&ScannedFile{},
	}
}
