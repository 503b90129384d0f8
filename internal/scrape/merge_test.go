package scrape

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashbourne-dev/reelvault/internal/database"
)

func TestApplyResult_ReplaceOverwritesNonEmptyScalars(t *testing.T) {
	media := &database.Media{Title: "Old Title", Overview: "old"}
	payload := &Payload{Title: "New Title", Overview: "new"}

	changed := ApplyResult(ModeReplace, media, payload)
	require.True(t, changed)
	assert.Equal(t, "New Title", media.Title)
	assert.Equal(t, "new", media.Overview)
}

func TestApplyResult_SupplementOnlyFillsEmptyScalars(t *testing.T) {
	media := &database.Media{Title: "Existing Title", Overview: ""}
	payload := &Payload{Title: "Scraped Title", Overview: "scraped overview"}

	changed := ApplyResult(ModeSupplement, media, payload)
	require.True(t, changed)
	assert.Equal(t, "Existing Title", media.Title, "non-empty stored title must survive supplement mode")
	assert.Equal(t, "scraped overview", media.Overview)
}

// TestApplyResult_EmptyNeverOverwrites exercises property P4.
func TestApplyResult_EmptyNeverOverwrites(t *testing.T) {
	media := &database.Media{Title: "Keep Me", Overview: "keep"}
	payload := &Payload{}

	changedReplace := ApplyResult(ModeReplace, media, payload)
	changedSupplement := ApplyResult(ModeSupplement, media, payload)

	assert.False(t, changedReplace)
	assert.False(t, changedSupplement)
	assert.Equal(t, "Keep Me", media.Title)
	assert.Equal(t, "keep", media.Overview)
}

// TestApplyResult_ReplaceIdempotent exercises property P3 for replace mode.
func TestApplyResult_ReplaceIdempotent(t *testing.T) {
	media := &database.Media{}
	payload := &Payload{Title: "X", Genres: []string{"Drama", "Comedy"}}

	ApplyResult(ModeReplace, media, payload)
	first := *media
	ApplyResult(ModeReplace, media, payload)

	assert.Equal(t, first.Title, media.Title)
	assert.Equal(t, first.Genres, media.Genres)
}

// TestApplyResult_SupplementIdempotent exercises property P3 for supplement
// mode, including when a field was already non-empty before the first apply.
func TestApplyResult_SupplementIdempotent(t *testing.T) {
	media := &database.Media{Title: "Already Set", Genres: encodeJSON([]string{"Action"})}
	payload := &Payload{Title: "Scraped", Genres: []string{"Action", "Thriller"}}

	firstChanged := ApplyResult(ModeSupplement, media, payload)
	require.True(t, firstChanged)
	snapshot := *media

	secondChanged := ApplyResult(ModeSupplement, media, payload)
	assert.False(t, secondChanged)
	assert.Equal(t, snapshot.Title, media.Title)
	assert.Equal(t, snapshot.Genres, media.Genres)
}

func TestApplyResult_SupplementMergesListsByIdentity(t *testing.T) {
	media := &database.Media{Genres: encodeJSON([]string{"Action"})}
	payload := &Payload{Genres: []string{"action", "Comedy"}}

	ApplyResult(ModeSupplement, media, payload)

	assert.Equal(t, []string{"Action", "Comedy"}, decodeStrings(media.Genres), "case-insensitive dedup must keep the stored casing and append only the new entry")
}

func TestApplyResult_ReplacePreservesCrewButSwapsDirector(t *testing.T) {
	media := &database.Media{Crew: encodeJSON([]CrewMember{
		{Name: "Old Director", Role: "director"},
		{Name: "Some Writer", Role: "writer"},
	})}
	payload := &Payload{Director: "New Director"}

	ApplyResult(ModeReplace, media, payload)

	crew := decodeCrew(media.Crew)
	require.Len(t, crew, 2)
	names := map[string]string{}
	for _, c := range crew {
		names[c.Role] = c.Name
	}
	assert.Equal(t, "New Director", names["director"])
	assert.Equal(t, "Some Writer", names["writer"])
}

func TestApplyResult_SupplementKeepsExistingDirector(t *testing.T) {
	media := &database.Media{Crew: encodeJSON([]CrewMember{{Name: "Existing", Role: "director"}})}
	payload := &Payload{Director: "Scraped Director"}

	changed := ApplyResult(ModeSupplement, media, payload)

	assert.False(t, changed)
	crew := decodeCrew(media.Crew)
	require.Len(t, crew, 1)
	assert.Equal(t, "Existing", crew[0].Name)
}

func TestApplyResult_ReleaseDateScalarRespectsModes(t *testing.T) {
	existing := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	scraped := time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)

	media := &database.Media{ReleaseDate: &existing}
	payload := &Payload{ReleaseDate: &scraped}

	ApplyResult(ModeSupplement, media, payload)
	assert.Equal(t, existing, *media.ReleaseDate)

	ApplyResult(ModeReplace, media, payload)
	assert.Equal(t, scraped, *media.ReleaseDate)
}

func TestParseMergeMode(t *testing.T) {
	_, err := ParseMergeMode("bogus")
	assert.Error(t, err)

	mode, err := ParseMergeMode("replace")
	require.NoError(t, err)
	assert.Equal(t, ModeReplace, mode)
}

func TestDedupMagnets(t *testing.T) {
	results := []MagnetResult{
		{Title: "one", MagnetLink: "magnet:?xt=urn:btih:ABCDEF&dn=one"},
		{Title: "two", MagnetLink: "magnet:?xt=urn:btih:abcdef&dn=two"},
		{Title: "three", MagnetLink: "invalid"},
	}

	deduped := DedupMagnets(results)
	require.Len(t, deduped, 2)
	assert.Equal(t, "one", deduped[0].Title)
	assert.Equal(t, "three", deduped[1].Title)
}
