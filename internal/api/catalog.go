package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/star/keplertrack/internal/tle"
)

// maxParseBody bounds POST /api/v1/elements/parse bodies. A three-line
// element set is under 200 bytes.
const maxParseBody = 4 << 10

type catalogResponse struct {
	Source     string         `json:"source"`
	FetchedAt  time.Time      `json:"fetched_at"`
	AgeSeconds float64        `json:"age_seconds"`
	Objects    int            `json:"objects"`
	EpochRange tle.EpochRange `json:"epoch_range"`
}

func (s *Server) catalogMetadata(c *tle.Catalog) catalogResponse {
	return catalogResponse{
		Source:     c.Source,
		FetchedAt:  c.FetchedAt,
		AgeSeconds: s.now().Sub(c.FetchedAt).Seconds(),
		Objects:    c.Len(),
		EpochRange: c.EpochRange,
	}
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	c := s.deps.Store.Get()
	if c == nil {
		s.writeError(w, r, tle.ErrNoCatalog)
		return
	}
	writeJSON(w, http.StatusOK, s.catalogMetadata(c))
}

func (s *Server) handleCatalogFetch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Refresher == nil {
		writeJSON(w, http.StatusForbidden, errorResponse{
			Error:     "catalog fetching is disabled",
			RequestID: RequestID(r.Context()),
		})
		return
	}

	c, err := s.deps.Refresher.Refresh(r.Context())
	if c == nil {
		if err == nil {
			err = tle.ErrEmptyCatalog
		}
		s.logger.Warn("catalog refresh failed", "request_id", RequestID(r.Context()), "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:     err.Error(),
			RequestID: RequestID(r.Context()),
		})
		return
	}
	// A cached fallback is served with the fetch error attached.
	resp := struct {
		catalogResponse
		Warning string `json:"warning,omitempty"`
	}{catalogResponse: s.catalogMetadata(c)}
	if err != nil {
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleParse decodes a three-line element set from the request body.
// ref_year anchors the two-digit epoch year and defaults to the current year.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	refYear, err := queryInt(r.URL.Query(), "ref_year", s.now().UTC().Year(), 1957, 9999)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxParseBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error:     "element set body too large",
				RequestID: RequestID(r.Context()),
			})
			return
		}
		s.writeError(w, r, err)
		return
	}

	es, err := tle.Parse(string(body), refYear)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, es)
}
