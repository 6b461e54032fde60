package tle

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNoCatalog is returned by Store lookups before the first catalog is loaded.
	ErrNoCatalog = errors.New("no catalog loaded")
	// ErrUnknownObject is returned when a catalog number is not in the current catalog.
	ErrUnknownObject = errors.New("catalog number not found")
)

// Store holds the current catalog. Readers never block; fetches are
// serialized with Lock/Unlock so two refreshes cannot interleave.
type Store struct {
	catalog atomic.Pointer[Catalog]
	mu      sync.Mutex
}

func NewStore() *Store {
	return &Store{}
}

// Get returns the current catalog, or nil if none has been loaded.
func (s *Store) Get() *Catalog {
	return s.catalog.Load()
}

// Set atomically replaces the current catalog and returns the previous one.
func (s *Store) Set(c *Catalog) *Catalog {
	return s.catalog.Swap(c)
}

// Ready reports whether a catalog has been loaded.
func (s *Store) Ready() bool {
	return s.catalog.Load() != nil
}

// Lookup finds an element set in the current catalog.
func (s *Store) Lookup(catalogNumber int) (ElementSet, error) {
	c := s.catalog.Load()
	if c == nil {
		return ElementSet{}, ErrNoCatalog
	}
	es, ok := c.Lookup(catalogNumber)
	if !ok {
		return ElementSet{}, ErrUnknownObject
	}
	return es, nil
}

// AgeSeconds returns the age of the current catalog in seconds, or -1 if
// no catalog is loaded.
func (s *Store) AgeSeconds(now time.Time) float64 {
	c := s.catalog.Load()
	if c == nil {
		return -1
	}
	return now.Sub(c.FetchedAt).Seconds()
}

func (s *Store) Lock()   { s.mu.Lock() }
func (s *Store) Unlock() { s.mu.Unlock() }
