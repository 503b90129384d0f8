package tmdbclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMovie_CachesWithinTTL(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(Movie{ID: 42, Title: "Example"})
	}))
	defer server.Close()

	client := New("key", time.Minute)
	client.baseURL = server.URL

	first, err := client.GetMovie(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Example", first.Title)

	_, err = client.GetMovie(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second call within TTL should be served from cache")
}

func TestGetMovie_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New("key", 0)
	client.baseURL = server.URL

	_, err := client.GetMovie(context.Background(), 1)
	assert.Error(t, err)
}
