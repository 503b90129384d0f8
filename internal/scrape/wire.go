package scrape

import (
	"encoding/json"
	"fmt"

	"github.com/ashbourne-dev/reelvault/internal/plugin"
)

// batchItem converts a ScrapeTarget into one element of a
// batch_scrape_media request's media_list.
func batchItem(t ScrapeTarget) plugin.BatchMediaItem {
	item := plugin.BatchMediaItem{
		ID:          t.MediaID,
		ContentType: string(t.ContentType),
		Studio:      t.Studio,
	}
	switch t.Kind {
	case TargetCode:
		item.Code = t.Code
	case TargetSeriesDate:
		item.Series = t.SeriesName
		item.ReleaseDate = t.ReleaseDate.Format("2006-01-02")
	case TargetSeriesTitle:
		item.Series = t.SeriesName
		item.Title = t.Title
	case TargetTitleYear:
		item.Title = t.Title
		item.Year = t.Year
	}
	return item
}

// getRequest builds the single-target "get" request for a media target.
// The action identifies the release by one string id — the code when the
// target has one, the series name and release date for a series/date
// target, else the title — with series/studio/content_type passed
// as narrowing fields.
func getRequest(t ScrapeTarget, returnMode, fieldSource string) plugin.Request {
	req := plugin.Request{
		Action:      plugin.ActionGet,
		ContentType: string(t.ContentType),
		Studio:      t.Studio,
		Series:      t.Series,
		ReturnMode:  returnMode,
		FieldSource: fieldSource,
	}
	switch t.Kind {
	case TargetCode:
		req.ID = t.Code
	case TargetSeriesDate:
		req.ID = t.SeriesName + " " + t.ReleaseDate.Format("2006-01-02")
		req.Series = t.SeriesName
	case TargetSeriesTitle:
		req.ID = t.Title
		req.Series = t.SeriesName
	case TargetTitleYear:
		req.ID = t.Title
	}
	return req
}

// batchResultRow is one per-target row of a batch response's data array.
type batchResultRow struct {
	MediaID   string          `json:"media_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	ActorName string          `json:"actor_name,omitempty"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (r batchResultRow) actorKey() string {
	if r.ActorName != "" {
		return r.ActorName
	}
	return r.Name
}

// decodeBatchRows extracts the per-target rows from a batch response,
// accepting both `data: [...]` and the `data: {results: [...]}` envelope.
func decodeBatchRows(resp *plugin.Response) ([]batchResultRow, error) {
	if len(resp.Data) == 0 {
		return nil, nil
	}

	var rows []batchResultRow
	if err := json.Unmarshal(resp.Data, &rows); err == nil {
		return rows, nil
	}

	var envelope struct {
		Results []batchResultRow `json:"results"`
	}
	if err := json.Unmarshal(resp.Data, &envelope); err != nil {
		return nil, fmt.Errorf("malformed batch response data: %w", err)
	}
	return envelope.Results, nil
}

// decodeMagnetResults extracts magnet hits from a search_magnets response,
// accepting both `data: [...]` and the `data: {results: [...]}` envelope.
func decodeMagnetResults(resp *plugin.Response) ([]MagnetResult, error) {
	if len(resp.Data) == 0 {
		return nil, nil
	}

	var results []MagnetResult
	if err := json.Unmarshal(resp.Data, &results); err == nil {
		return results, nil
	}

	var envelope struct {
		Results []MagnetResult `json:"results"`
	}
	if err := json.Unmarshal(resp.Data, &envelope); err != nil {
		return nil, fmt.Errorf("malformed magnet response data: %w", err)
	}
	return envelope.Results, nil
}

// DecodePayloads decodes a client-supplied data value — one result object
// or an array of them — normalizing the polymorphic fields either way.
// Singles come back as a one-element slice with wasArray false.
func DecodePayloads(raw json.RawMessage) (payloads []Payload, wasArray bool, err error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		out := make([]Payload, 0, len(items))
		for _, item := range items {
			payload, err := decodePayload(item)
			if err != nil {
				return nil, true, err
			}
			out = append(out, *payload)
		}
		return out, true, nil
	}

	payload, err := decodePayload(raw)
	if err != nil {
		return nil, false, err
	}
	return []Payload{*payload}, false, nil
}

// decodeScrapeResult decodes a single-target plugin response into a
// ScrapeResult, handling the multi-result envelope at both the response
// top level and nested inside data, plus the fields whose wire shape
// varies (backdrop_url as string-or-array, preview_video_urls as
// {quality,url} or raw-string entries).
func decodeScrapeResult(resp *plugin.Response) (*ScrapeResult, error) {
	if resp.Mode == "multiple" {
		return decodeMultiple(resp.Results, resp.TotalCount, "")
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("scrape response carried no data")
	}

	var envelope struct {
		Mode       string            `json:"mode"`
		Results    []json.RawMessage `json:"results"`
		TotalCount int               `json:"total_count"`
		Message    string            `json:"message"`
	}
	if err := json.Unmarshal(resp.Data, &envelope); err == nil && envelope.Mode == "multiple" {
		return decodeMultiple(envelope.Results, envelope.TotalCount, envelope.Message)
	}

	payload, err := decodePayload(resp.Data)
	if err != nil {
		return nil, err
	}
	return &ScrapeResult{Kind: ResultSingle, Single: payload}, nil
}

func decodeMultiple(raw []json.RawMessage, totalCount int, message string) (*ScrapeResult, error) {
	multiple := make([]Payload, 0, len(raw))
	for _, item := range raw {
		payload, err := decodePayload(item)
		if err != nil {
			return nil, err
		}
		multiple = append(multiple, *payload)
	}
	if totalCount == 0 {
		totalCount = len(multiple)
	}
	return &ScrapeResult{
		Kind:       ResultMultiple,
		Multiple:   multiple,
		TotalCount: totalCount,
		Message:    message,
	}, nil
}

// decodePayload decodes one scraped payload, ignoring unknown fields and
// normalizing the two polymorphic ones afterward.
func decodePayload(raw json.RawMessage) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode scrape payload: %w", err)
	}

	var flexible map[string]json.RawMessage
	if err := json.Unmarshal(raw, &flexible); err != nil {
		return &payload, nil
	}
	if rawBackdrop, ok := flexible["backdrop_url"]; ok {
		payload.BackdropURLs = decodeStringOrArray(rawBackdrop)
	}
	if rawVideos, ok := flexible["preview_video_urls"]; ok {
		payload.PreviewVideoURLs = decodeVideoVariantsFlexible(rawVideos)
	}
	return &payload, nil
}

func decodeStringOrArray(raw json.RawMessage) []string {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil
		}
		return []string{single}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	return nil
}

func decodeVideoVariantsFlexible(raw json.RawMessage) []VideoVariant {
	var typed []VideoVariant
	if err := json.Unmarshal(raw, &typed); err == nil {
		allHaveURL := true
		for _, v := range typed {
			if v.URL == "" {
				allHaveURL = false
			}
		}
		if allHaveURL {
			return typed
		}
	}
	var urls []string
	if err := json.Unmarshal(raw, &urls); err == nil {
		out := make([]VideoVariant, 0, len(urls))
		for _, u := range urls {
			out = append(out, VideoVariant{URL: u})
		}
		return out
	}
	return nil
}
