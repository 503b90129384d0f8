package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func onConflictDoNothing() clause.OnConflict {
	return clause.OnConflict{DoNothing: true}
}

// Repository is the set of typed operations the Scrape Pipeline needs
// against the catalog. A single embedded SQLite connection backs it,
// opened with a capacity-1 writer (see NewRepository).
type Repository struct {
	db *gorm.DB
}

// NewRepository wraps an already-open SQLite connection, migrates the
// schema, and caps the connection pool at one open connection — the
// embedded engine serializes writers, so a larger pool just adds contention.
func NewRepository(db *gorm.DB) (*Repository, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// GetMedia retrieves a media row by ID, including its studio and series.
func (r *Repository) GetMedia(ctx context.Context, id string) (*Media, error) {
	var media Media
	err := r.db.WithContext(ctx).
		Preload("Studio").Preload("Series").
		Where("id = ?", id).First(&media).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("media not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media: %w", err)
	}
	return &media, nil
}

// MediaExists reports whether a media row with the given ID is present,
// without loading the row — the Asset Cache's orphan sweep wants existence
// only.
func (r *Repository) MediaExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Media{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check media existence: %w", err)
	}
	return count > 0, nil
}

// FindMediaByCode looks up a media row by its release code.
func (r *Repository) FindMediaByCode(ctx context.Context, code string) (*Media, error) {
	var media Media
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&media).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find media by code: %w", err)
	}
	return &media, nil
}

// CreateMedia inserts a new media row, assigning it a UUID if ID is empty.
func (r *Repository) CreateMedia(ctx context.Context, media *Media) error {
	if media.ID == "" {
		media.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(media).Error; err != nil {
		return fmt.Errorf("failed to create media: %w", err)
	}
	return nil
}

// UpdateMedia applies a column update map to an existing media row.
func (r *Repository) UpdateMedia(ctx context.Context, id string, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&Media{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update media: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("media not found: %s", id)
	}
	return nil
}

// UnmatchedMedia returns media rows not yet resolved against a plugin,
// the input to auto_scrape_unmatched.
func (r *Repository) UnmatchedMedia(ctx context.Context, limit int) ([]*Media, error) {
	var rows []*Media
	q := r.db.WithContext(ctx).Where("matched = ?", false)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list unmatched media: %w", err)
	}
	return rows, nil
}

// GetActor retrieves an actor row by ID.
func (r *Repository) GetActor(ctx context.Context, id string) (*Actor, error) {
	var actor Actor
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&actor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("actor not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get actor: %w", err)
	}
	return &actor, nil
}

// FindOrCreateActorByName looks up an actor by exact name, creating one if
// none exists, so repeated scrapes of the same cast member converge on a
// single row instead of duplicating it.
func (r *Repository) FindOrCreateActorByName(ctx context.Context, name string) (*Actor, error) {
	var actor Actor
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&actor).Error
	if err == nil {
		return &actor, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up actor: %w", err)
	}

	actor = Actor{ID: uuid.NewString(), Name: name}
	if err := r.db.WithContext(ctx).Create(&actor).Error; err != nil {
		// Lost the create race to a concurrent scrape of the same name;
		// the unique index on Name means the row now exists, re-fetch it.
		var existing Actor
		if findErr := r.db.WithContext(ctx).Where("name = ?", name).First(&existing).Error; findErr == nil {
			return &existing, nil
		}
		return nil, fmt.Errorf("failed to create actor: %w", err)
	}
	return &actor, nil
}

// LinkActorToMedia links an actor to a media row. Idempotent: the link's
// composite primary key means relinking the same pair is a no-op rather
// than a duplicate row or an error.
func (r *Repository) LinkActorToMedia(ctx context.Context, actorID, mediaID string) error {
	link := ActorMediaLink{ActorID: actorID, MediaID: mediaID, CreatedAt: time.Now()}
	err := r.db.WithContext(ctx).Clauses(onConflictDoNothing()).Create(&link).Error
	if err != nil {
		return fmt.Errorf("failed to link actor to media: %w", err)
	}
	return nil
}

// FindOrCreateStudioByName mirrors FindOrCreateActorByName for studios.
func (r *Repository) FindOrCreateStudioByName(ctx context.Context, name string) (*Studio, error) {
	var studio Studio
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&studio).Error
	if err == nil {
		return &studio, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up studio: %w", err)
	}
	studio = Studio{ID: uuid.NewString(), Name: name}
	if err := r.db.WithContext(ctx).Create(&studio).Error; err != nil {
		return nil, fmt.Errorf("failed to create studio: %w", err)
	}
	return &studio, nil
}

// FindOrCreateSeriesByName mirrors FindOrCreateActorByName for series.
func (r *Repository) FindOrCreateSeriesByName(ctx context.Context, name string) (*Series, error) {
	var series Series
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&series).Error
	if err == nil {
		return &series, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up series: %w", err)
	}
	series = Series{ID: uuid.NewString(), Name: name}
	if err := r.db.WithContext(ctx).Create(&series).Error; err != nil {
		return nil, fmt.Errorf("failed to create series: %w", err)
	}
	return &series, nil
}

// FindMediaBySeriesAndDate supports the TargetSeriesDate scrape target kind.
func (r *Repository) FindMediaBySeriesAndDate(ctx context.Context, seriesName string, releaseDate time.Time) (*Media, error) {
	var media Media
	err := r.db.WithContext(ctx).
		Joins("JOIN series ON series.id = media.series_id").
		Where("series.name = ? AND date(media.release_date) = date(?)", seriesName, releaseDate).
		First(&media).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find media by series and date: %w", err)
	}
	return &media, nil
}

// FindMediaByTitleAndYear supports the TargetTitleYear scrape target kind.
func (r *Repository) FindMediaByTitleAndYear(ctx context.Context, title string, year int) (*Media, error) {
	var media Media
	err := r.db.WithContext(ctx).
		Where("title = ? AND strftime('%Y', release_date) = ?", title, fmt.Sprintf("%04d", year)).
		First(&media).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find media by title and year: %w", err)
	}
	return &media, nil
}

// AttachFileToMedia records which catalog row a scanned file resolved to.
func (r *Repository) AttachFileToMedia(ctx context.Context, fileID, mediaID string) error {
	err := r.db.WithContext(ctx).Model(&ScannedFile{}).Where("id = ?", fileID).Update("media_id", mediaID).Error
	if err != nil {
		return fmt.Errorf("failed to attach file to media: %w", err)
	}
	return nil
}

// ScannedFilesSince returns files the scanner has recorded since a cursor
// time, feeding auto_scrape_unmatched's target discovery.
func (r *Repository) ScannedFilesSince(ctx context.Context, since time.Time) ([]*ScannedFile, error) {
	var files []*ScannedFile
	err := r.db.WithContext(ctx).Where("last_scanned >= ?", since).Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list scanned files: %w", err)
	}
	return files, nil
}

// DB returns the underlying connection for query building in tests.
func (r *Repository) DB() *gorm.DB {
	return r.db
}
