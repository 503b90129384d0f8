// Package scanner is the minimal external collaborator that yields files
// discovered on disk for auto_scrape_unmatched to turn into scrape targets.
// It does not parse media containers or extract technical metadata — that
// is conventional library-scanning work outside the orchestrator's scope.
package scanner

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashbourne-dev/reelvault/internal/database"
	"github.com/ashbourne-dev/reelvault/internal/logger"
)

// yearPattern pulls a four-digit year out of a filename, the common
// "Title (2024).mkv" naming convention.
var yearPattern = regexp.MustCompile(`\((\d{4})\)`)

// codePattern pulls a studio release code, e.g. "ABC-123", out of a
// filename.
var codePattern = regexp.MustCompile(`\b([A-Z]{2,6}-\d{2,5})\b`)

// seriesDatePattern matches the "Series Name - 2024-05-05 - Episode" naming
// convention: a series prefix, a dash-separated ISO date, and optionally a
// trailing episode title.
var seriesDatePattern = regexp.MustCompile(`^(.+?)\s*-\s*(\d{4}-\d{2}-\d{2})(?:\s*-\s*(.+))?$`)

// Scanner records files found under a root directory into the catalog as
// ScannedFile rows, parsing naming-convention hints out of each path.
type Scanner struct {
	repo *database.Repository
}

// New builds a Scanner backed by repo.
func New(repo *database.Repository) *Scanner {
	return &Scanner{repo: repo}
}

// Scan walks paths (already-discovered file paths; the actual directory
// walk is conventional filesystem work left to the caller) and upserts a
// ScannedFile row per path with whatever hints it could parse.
func (s *Scanner) Scan(ctx context.Context, paths []string) ([]*database.ScannedFile, error) {
	now := time.Now()
	results := make([]*database.ScannedFile, 0, len(paths))

	for _, path := range paths {
		hint := parseHints(path)
		hint.ID = uuid.NewString()
		hint.Path = path
		hint.LastScanned = now

		existing, err := s.findExisting(ctx, path)
		if err != nil {
			logger.Warn("scanner: failed to look up existing file",
				logger.String("path", path),
				logger.Err("error", err),
			)
			continue
		}
		if existing != nil {
			existing.CodeHint = hint.CodeHint
			existing.TitleHint = hint.TitleHint
			existing.YearHint = hint.YearHint
			existing.SeriesHint = hint.SeriesHint
			existing.DateHint = hint.DateHint
			existing.LastScanned = now
			if err := s.repo.DB().WithContext(ctx).Save(existing).Error; err != nil {
				return nil, err
			}
			results = append(results, existing)
			continue
		}

		if err := s.repo.DB().WithContext(ctx).Create(&hint).Error; err != nil {
			return nil, err
		}
		results = append(results, &hint)
	}

	return results, nil
}

func (s *Scanner) findExisting(ctx context.Context, path string) (*database.ScannedFile, error) {
	var file database.ScannedFile
	err := s.repo.DB().WithContext(ctx).Where("path = ?", path).First(&file).Error
	if err != nil {
		if strings.Contains(err.Error(), "record not found") {
			return nil, nil
		}
		return nil, err
	}
	return &file, nil
}

func parseHints(path string) database.ScannedFile {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	hint := database.ScannedFile{TitleHint: name}

	if m := codePattern.FindString(name); m != "" {
		hint.CodeHint = m
	}
	if m := yearPattern.FindStringSubmatch(name); len(m) == 2 {
		if year, err := strconv.Atoi(m[1]); err == nil {
			hint.YearHint = year
			hint.TitleHint = strings.TrimSpace(yearPattern.ReplaceAllString(name, ""))
		}
	}
	if m := seriesDatePattern.FindStringSubmatch(name); len(m) == 4 {
		if date, err := time.Parse("2006-01-02", m[2]); err == nil {
			hint.SeriesHint = strings.TrimSpace(m[1])
			hint.DateHint = &date
			if episode := strings.TrimSpace(m[3]); episode != "" {
				hint.TitleHint = episode
			}
		}
	}

	return hint
}
