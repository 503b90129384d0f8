package scrape

import (
	"fmt"

	"github.com/ashbourne-dev/reelvault/internal/plugin"
	"github.com/ashbourne-dev/reelvault/internal/session"
)

// scrapeProgress consumes one batch's progress frames and folds them into
// the session snapshot. Frames arrive on the host's serial stderr reader,
// so consume is never called concurrently for one session; the per-item
// guard map needs no lock of its own.
type scrapeProgress struct {
	sessions *session.Store
	id       string
	counted  map[string]string // item key -> terminal status already tallied
}

func newScrapeProgress(sessions *session.Store, id string) *scrapeProgress {
	return &scrapeProgress{sessions: sessions, id: id, counted: make(map[string]string)}
}

// itemKey identifies a frame's item for the transition guard. Plugins
// normally name items; a frame without a name falls back to its position.
func itemKey(frame plugin.ProgressFrame) string {
	if frame.ItemName != "" {
		return frame.ItemName
	}
	return fmt.Sprintf("#%d", frame.Current)
}

func (a *scrapeProgress) consume(frame plugin.ProgressFrame) {
	a.sessions.Mutate(a.id, func(s *session.Snapshot) {
		if frame.Total > s.Total {
			s.Total = frame.Total
		}
		if frame.Current > s.Current {
			s.Current = frame.Current
		}
		if frame.ItemName != "" {
			s.CurrentItem = frame.ItemName
		}
		if frame.Status != "" {
			s.ItemStatus = frame.Status
		}

		if s.Concurrent {
			switch {
			case frame.ProcessingItems != nil:
				s.ProcessingItems = append([]string(nil), frame.ProcessingItems...)
			case frame.Status == plugin.ItemScraping && frame.ItemName != "":
				s.AddProcessingItem(frame.ItemName)
			case frame.Terminal() && frame.ItemName != "":
				s.RemoveProcessingItem(frame.ItemName)
			}
		}

		// Counters move only on a first observed transition into a
		// terminal status for a given item, which is what keeps them
		// monotonic under repeated or out-of-order frames.
		if frame.Terminal() {
			key := itemKey(frame)
			if _, seen := a.counted[key]; !seen {
				a.counted[key] = frame.Status
				if frame.Status == plugin.ItemCompleted {
					s.SuccessCount++
				} else {
					s.FailedCount++
				}
			}
		}

		if s.Concurrent {
			s.Message = fmt.Sprintf("concurrently scraping %d items (%d/%d)", len(s.ProcessingItems), s.Current, s.Total)
		} else {
			s.Message = fmt.Sprintf("scraping %d/%d", s.Current, s.Total)
		}
	})
}

// finish closes the session's books after result application. Frames may
// have under-reported (a plugin that emits none at all is conforming), so
// the success counter is raised to the number of rows actually applied and
// the failed counter absorbs the remainder — missing rows included, per
// the missing-counts-as-failed resolution. Counters are never lowered.
func (a *scrapeProgress) finish(appliedSuccess int, message string) {
	a.sessions.Mutate(a.id, func(s *session.Snapshot) {
		if appliedSuccess > s.SuccessCount {
			s.SuccessCount = appliedSuccess
		}
		if s.SuccessCount > s.Total {
			s.Total = s.SuccessCount
		}
		s.FailedCount = s.Total - s.SuccessCount
		s.Current = s.Total
		s.ProcessingItems = nil
		if message != "" {
			s.Message = message
		}
	})
	a.sessions.Complete(a.id)
}

// magnetProgress folds magnet-search frames into the session's ordered
// per-site breakdown. Site names are free strings; whatever the plugin
// sends is recorded verbatim.
func magnetProgress(sessions *session.Store, id string) func(plugin.ProgressFrame) {
	return func(frame plugin.ProgressFrame) {
		if frame.SiteName == "" {
			return
		}
		sessions.Mutate(id, func(s *session.Snapshot) {
			s.UpdateSite(session.SiteProgress{
				SiteName:    frame.SiteName,
				Status:      frame.Status,
				ResultCount: frame.ResultCount,
				Error:       frame.Error,
			})
			s.Message = fmt.Sprintf("%s: %s", frame.SiteName, frame.Status)
		})
	}
}
