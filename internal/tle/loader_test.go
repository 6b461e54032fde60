package tle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_RefreshWritesCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(threeLine(issName, issLine1, issLine2) + threeLine(geoName, geoLine1, geoLine2)))
	}))
	defer server.Close()

	store := NewStore()
	cache := NewCache(t.TempDir(), 3)
	loader := NewLoader(store, NewFetcher(server.URL, testLogger), cache, testLogger)
	loader.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	var loaded *Catalog
	loader.OnLoad = func(c *Catalog) { loaded = c }

	c, err := loader.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
	assert.Same(t, c, store.Get())
	assert.Same(t, c, loaded)
	assert.Equal(t, server.URL, c.Source)

	data, ts, err := cache.LoadLatest()
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.True(t, ts.Equal(c.FetchedAt))
}

func TestLoader_FallsBackToCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cache := NewCache(t.TempDir(), 3)
	fetched := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cache.Write([]byte(threeLine(geoName, geoLine1, geoLine2)), fetched))

	store := NewStore()
	loader := NewLoader(store, NewFetcher(server.URL, testLogger), cache, testLogger)

	c, err := loader.Refresh(context.Background())
	require.Error(t, err, "fetch error is still reported")
	require.NotNil(t, c)
	assert.Equal(t, "cache", c.Source)
	assert.True(t, store.Ready())

	_, err = store.Lookup(28884)
	assert.NoError(t, err)
}

func TestLoader_EmptyCatalogKeepsCurrent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("nothing useful here\n"))
	}))
	defer server.Close()

	store := NewStore()
	iss, err := ParseLines(issName, issLine1, issLine2, 2024)
	require.NoError(t, err)
	current := NewCatalog("seed", time.Now(), []ElementSet{iss})
	store.Set(current)

	loader := NewLoader(store, NewFetcher(server.URL, testLogger), nil, testLogger)
	_, err = loader.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrEmptyCatalog)
	assert.Same(t, current, store.Get())
}

func TestLoader_WarmStart(t *testing.T) {
	loader := NewLoader(NewStore(), NewFetcher("", testLogger), nil, testLogger)
	_, err := loader.WarmStart()
	assert.ErrorIs(t, err, ErrCacheEmpty)

	cache := NewCache(t.TempDir(), 3)
	require.NoError(t, cache.Write([]byte(threeLine(issName, issLine1, issLine2)), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))

	store := NewStore()
	loader = NewLoader(store, NewFetcher("", testLogger), cache, testLogger)
	c, err := loader.WarmStart()
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	assert.True(t, store.Ready())
}
