package plugin

import "encoding/json"

// Capability is a scrape operation a plugin declares it can perform.
type Capability string

const (
	CapabilityScrapeMedia       Capability = "scrape_media"
	CapabilityScrapeActor       Capability = "scrape_actor"
	CapabilitySearchMagnets     Capability = "search_magnets"
	CapabilityBatchScrapeMedia  Capability = "batch_scrape_media"
	CapabilityBatchScrapeActors Capability = "batch_scrape_actors"
)

// Action is the operation named in a Request's "action" field.
type Action string

const (
	ActionGet               Action = "get"
	ActionScrapeActor       Action = "scrape_actor"
	ActionBatchScrapeMedia  Action = "batch_scrape_media"
	ActionBatchScrapeActors Action = "batch_scrape_actors"
	ActionSearchMagnets     Action = "search_magnets"
	ActionInfo              Action = "info"
)

// IsBatch reports whether the action's liveness is enforced by progress
// frames (inactivity watchdog) instead of the single-call request timeout.
func (a Action) IsBatch() bool {
	switch a {
	case ActionBatchScrapeMedia, ActionBatchScrapeActors, ActionSearchMagnets:
		return true
	}
	return false
}

// BatchMediaItem is one element of a batch_scrape_media request's
// media_list: the catalog row ID plus whichever identity key the target
// assembly selected for it.
type BatchMediaItem struct {
	ID          string `json:"id"`
	Code        string `json:"code,omitempty"`
	Title       string `json:"title,omitempty"`
	Year        int    `json:"year,omitempty"`
	Series      string `json:"series,omitempty"`
	ReleaseDate string `json:"release_date,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Studio      string `json:"studio,omitempty"`
}

// Request is the single JSON line written to a plugin's stdin. One struct
// covers every action; fields the action doesn't use are omitted from the
// encoding.
type Request struct {
	Action Action `json:"action"`

	// get
	ID          string `json:"id,omitempty"`
	FieldSource string `json:"field_source,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Series      string `json:"series,omitempty"`
	Studio      string `json:"studio,omitempty"`
	ReturnMode  string `json:"return_mode,omitempty"` // "single" | "multiple"

	// scrape_actor
	ActorName string `json:"actor_name,omitempty"`

	// batch_scrape_media
	MediaList  []BatchMediaItem `json:"media_list,omitempty"`
	Concurrent *bool            `json:"concurrent,omitempty"`
	ScrapeMode string           `json:"scrape_mode,omitempty"`

	// batch_scrape_actors
	ActorNames []string `json:"actor_names,omitempty"`

	// search_magnets
	Query string `json:"query,omitempty"`
}

// Response is the single JSON line a plugin writes to stdout on completion.
// Error is kept raw because plugins report it as either a bare string or a
// structured object; ErrorMessage flattens both.
type Response struct {
	Success    bool              `json:"success"`
	Data       json.RawMessage   `json:"data,omitempty"`
	Error      json.RawMessage   `json:"error,omitempty"`
	Mode       string            `json:"mode,omitempty"`
	Results    []json.RawMessage `json:"results,omitempty"`
	TotalCount int               `json:"total_count,omitempty"`
}

// ErrorMessage extracts a human-readable reason from the response's error
// field, trying in order: error.message.zh, error.message.en,
// error.message, error as a bare string, then "unknown error".
func (r *Response) ErrorMessage() string {
	if len(r.Error) == 0 {
		return "unknown error"
	}

	var structured struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(r.Error, &structured); err == nil && len(structured.Message) > 0 {
		var localized struct {
			Zh string `json:"zh"`
			En string `json:"en"`
		}
		if err := json.Unmarshal(structured.Message, &localized); err == nil {
			if localized.Zh != "" {
				return localized.Zh
			}
			if localized.En != "" {
				return localized.En
			}
		}
		var msg string
		if err := json.Unmarshal(structured.Message, &msg); err == nil && msg != "" {
			return msg
		}
	}

	var plain string
	if err := json.Unmarshal(r.Error, &plain); err == nil && plain != "" {
		return plain
	}

	return "unknown error"
}

// Item statuses reported by scrape progress frames.
const (
	ItemPending   = "pending"
	ItemScraping  = "scraping"
	ItemCompleted = "completed"
	ItemFailed    = "failed"
	ItemSkipped   = "skipped"
)

// ProgressFrame is decoded from a stderr line prefixed "PROGRESS:". One
// struct covers both frame flavors: scrape frames carry
// current/total/item_name/status (plus processing_items in concurrent
// mode), magnet-search frames carry site_name/status/result_count. The
// consumer keys off which fields are populated.
//
// ProcessingItems stays nil when the frame omitted the key, which is
// distinct from an explicitly empty list — the aggregation rule replaces
// the tracked set only when the key is present.
type ProgressFrame struct {
	Current         int      `json:"current"`
	Total           int      `json:"total"`
	ItemName        string   `json:"item_name"`
	Status          string   `json:"status"`
	Error           string   `json:"error,omitempty"`
	ProcessingItems []string `json:"processing_items,omitempty"`

	SiteName    string `json:"site_name,omitempty"`
	ResultCount int    `json:"result_count,omitempty"`
}

// Terminal reports whether the frame marks its item as finished, one way
// or the other.
func (f ProgressFrame) Terminal() bool {
	return f.Status == ItemCompleted || f.Status == ItemFailed
}

// progressPrefix is the stderr line prefix a plugin uses to emit a
// ProgressFrame instead of a plain log line.
const progressPrefix = "PROGRESS:"
