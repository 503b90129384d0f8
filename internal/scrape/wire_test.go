package scrape

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashbourne-dev/reelvault/internal/plugin"
)

func TestDecodeScrapeResult_SingleWithPolymorphicFields(t *testing.T) {
	resp := &plugin.Response{
		Success: true,
		Data: json.RawMessage(`{
			"title": "X",
			"backdrop_url": "https://cdn/one.jpg",
			"preview_video_urls": ["https://cdn/a.mp4", "https://cdn/b.mp4"],
			"unknown_field": {"ignored": true}
		}`),
	}

	result, err := decodeScrapeResult(resp)
	require.NoError(t, err)
	assert.Equal(t, ResultSingle, result.Kind)
	assert.Equal(t, "X", result.Single.Title)
	assert.Equal(t, []string{"https://cdn/one.jpg"}, result.Single.BackdropURLs)
	require.Len(t, result.Single.PreviewVideoURLs, 2)
	assert.Equal(t, "https://cdn/a.mp4", result.Single.PreviewVideoURLs[0].URL)
}

func TestDecodeScrapeResult_BackdropArrayAndTypedVideoVariants(t *testing.T) {
	resp := &plugin.Response{
		Success: true,
		Data: json.RawMessage(`{
			"backdrop_url": ["https://cdn/1.jpg", "https://cdn/2.jpg"],
			"preview_video_urls": [{"quality": "1080p", "url": "https://cdn/hd.mp4"}]
		}`),
	}

	result, err := decodeScrapeResult(resp)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn/1.jpg", "https://cdn/2.jpg"}, result.Single.BackdropURLs)
	require.Len(t, result.Single.PreviewVideoURLs, 1)
	assert.Equal(t, "1080p", result.Single.PreviewVideoURLs[0].Quality)
}

func TestDecodeScrapeResult_MultiEnvelopeAtTopLevel(t *testing.T) {
	resp := &plugin.Response{
		Success:    true,
		Mode:       "multiple",
		Results:    []json.RawMessage{json.RawMessage(`{"title":"A"}`), json.RawMessage(`{"title":"B"}`)},
		TotalCount: 2,
	}

	result, err := decodeScrapeResult(resp)
	require.NoError(t, err)
	assert.Equal(t, ResultMultiple, result.Kind)
	require.Len(t, result.Multiple, 2)
	assert.Equal(t, "A", result.Multiple[0].Title)
	assert.Equal(t, 2, result.TotalCount)
}

func TestDecodeScrapeResult_MultiEnvelopeNestedInData(t *testing.T) {
	resp := &plugin.Response{
		Success: true,
		Data:    json.RawMessage(`{"mode":"multiple","results":[{"title":"A"}],"total_count":1,"message":"pick one"}`),
	}

	result, err := decodeScrapeResult(resp)
	require.NoError(t, err)
	assert.Equal(t, ResultMultiple, result.Kind)
	assert.Equal(t, "pick one", result.Message)
}

func TestDecodeBatchRows_ArrayAndEnvelopeForms(t *testing.T) {
	fromArray, err := decodeBatchRows(&plugin.Response{Data: json.RawMessage(`[{"media_id":"m1","success":true}]`)})
	require.NoError(t, err)
	require.Len(t, fromArray, 1)
	assert.Equal(t, "m1", fromArray[0].MediaID)

	fromEnvelope, err := decodeBatchRows(&plugin.Response{Data: json.RawMessage(`{"results":[{"media_id":"m2","success":false}]}`)})
	require.NoError(t, err)
	require.Len(t, fromEnvelope, 1)
	assert.Equal(t, "m2", fromEnvelope[0].MediaID)
}

func TestDecodePayloads_SingleAndArray(t *testing.T) {
	single, wasArray, err := DecodePayloads(json.RawMessage(`{"title":"A","backdrop_url":"https://cdn/x.jpg"}`))
	require.NoError(t, err)
	assert.False(t, wasArray)
	require.Len(t, single, 1)
	assert.Equal(t, []string{"https://cdn/x.jpg"}, single[0].BackdropURLs)

	many, wasArray, err := DecodePayloads(json.RawMessage(`[{"title":"A"},{"title":"B"}]`))
	require.NoError(t, err)
	assert.True(t, wasArray)
	assert.Len(t, many, 2)
}

func TestBatchItem_EncodesKeyVariantOnly(t *testing.T) {
	code := batchItem(ScrapeTarget{Kind: TargetCode, MediaID: "m1", Code: "ABC-123"})
	assert.Equal(t, "ABC-123", code.Code)
	assert.Empty(t, code.Title)

	title := batchItem(ScrapeTarget{Kind: TargetTitleYear, MediaID: "m2", Title: "Some Film", Year: 2020})
	assert.Equal(t, "Some Film", title.Title)
	assert.Equal(t, 2020, title.Year)
	assert.Empty(t, title.Code)
}
