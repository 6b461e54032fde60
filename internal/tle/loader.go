package tle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrEmptyCatalog is returned when a fetched or cached catalog contains no
// valid element sets. The current catalog is left untouched.
var ErrEmptyCatalog = errors.New("catalog contains no valid element sets")

// Loader moves catalogs from the network or the disk cache into a Store.
type Loader struct {
	store   *Store
	fetcher *Fetcher
	cache   *Cache
	logger  *slog.Logger

	// OnLoad, if set, is called after every successful Store update.
	OnLoad func(*Catalog)

	now func() time.Time
}

// NewLoader wires a Loader. cache may be nil to disable persistence.
func NewLoader(store *Store, fetcher *Fetcher, cache *Cache, logger *slog.Logger) *Loader {
	return &Loader{
		store:   store,
		fetcher: fetcher,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
	}
}

// Refresh fetches a new catalog, writes it to the cache and publishes it.
// If the fetch fails and no catalog is loaded yet, the latest cached copy is
// used instead and the fetch error is still returned.
func (l *Loader) Refresh(ctx context.Context) (*Catalog, error) {
	l.store.Lock()
	defer l.store.Unlock()

	start := l.now()
	data, err := l.fetcher.Fetch(ctx)
	if err != nil {
		l.logger.Error("catalog fetch failed", "source", l.fetcher.SourceURL(), "error", err)
		if l.store.Get() == nil && l.cache != nil {
			if c, cerr := l.loadCached(); cerr == nil {
				return c, fmt.Errorf("fetch failed, serving cached catalog: %w", err)
			}
		}
		return nil, err
	}
	fetchedAt := l.now().UTC()

	c, err := l.publish(data, l.fetcher.SourceURL(), fetchedAt)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if err := l.cache.Write(data, fetchedAt); err != nil {
			l.logger.Warn("failed to write catalog cache", "error", err)
		}
	}

	l.logger.Info("catalog refreshed",
		"source", c.Source,
		"objects", c.Len(),
		"bytes", len(data),
		"duration_ms", l.now().Sub(start).Milliseconds(),
	)
	return c, nil
}

// WarmStart publishes the newest cached catalog, if any.
func (l *Loader) WarmStart() (*Catalog, error) {
	if l.cache == nil {
		return nil, ErrCacheEmpty
	}
	l.store.Lock()
	defer l.store.Unlock()
	return l.loadCached()
}

func (l *Loader) loadCached() (*Catalog, error) {
	data, ts, err := l.cache.LoadLatest()
	if err != nil {
		return nil, err
	}
	c, err := l.publish(data, "cache", ts)
	if err != nil {
		return nil, err
	}
	l.logger.Info("loaded cached catalog", "objects", c.Len(), "fetched_at", ts)
	return c, nil
}

// publish parses data and swaps it into the store. The two-digit epoch years
// are resolved against the year the data was fetched.
func (l *Loader) publish(data []byte, source string, fetchedAt time.Time) (*Catalog, error) {
	sets, err := ParseCatalog(bytes.NewReader(data), fetchedAt.Year(), l.logger)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := NewCatalog(source, fetchedAt, sets)
	l.store.Set(c)
	if l.OnLoad != nil {
		l.OnLoad(c)
	}
	return c, nil
}
