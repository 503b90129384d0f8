package assetcache

import (
	"strings"

	"github.com/ashbourne-dev/reelvault/internal/scrape"
)

// qualityRank orders known quality labels from best to worst; anything not
// listed ranks below all of them (sorted to the rear by rankOf's default).
var qualityRank = map[string]int{
	"4k":    5,
	"2160p": 5,
	"1080p": 4,
	"720p":  3,
	"480p":  2,
	"sd":    1,
}

func rankOf(quality string) int {
	return qualityRank[strings.ToLower(strings.TrimSpace(quality))]
}

// SelectBestVariant picks the highest-quality entry from variants. Ties in
// rank are broken by array order — the earlier entry wins.
func SelectBestVariant(variants []scrape.VideoVariant) (scrape.VideoVariant, bool) {
	if len(variants) == 0 {
		return scrape.VideoVariant{}, false
	}
	best := variants[0]
	bestRank := rankOf(best.Quality)
	for _, v := range variants[1:] {
		if rankOf(v.Quality) > bestRank {
			best = v
			bestRank = rankOf(v.Quality)
		}
	}
	return best, true
}
