package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/star/keplertrack/internal/orbit"
	"github.com/star/keplertrack/internal/passes"
	"github.com/star/keplertrack/internal/propagation"
	"github.com/star/keplertrack/internal/tle"
	"github.com/star/keplertrack/internal/transform"
)

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Line      int    `json:"line,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// queryError reports a malformed or out-of-range query parameter.
type queryError struct {
	param string
	msg   string
}

func (e *queryError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.param, e.msg)
}

func badParam(param, format string, args ...any) error {
	return &queryError{param: param, msg: fmt.Sprintf(format, args...)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to its HTTP status: malformed queries are 400,
// unknown objects 404, element and calculation failures 422 and a missing
// catalog 503.
func statusFor(err error) int {
	var qe *queryError
	var fe *tle.FieldError
	switch {
	case errors.As(err, &qe),
		errors.Is(err, propagation.ErrInvalidTrack),
		errors.Is(err, passes.ErrInvalidInterval),
		errors.Is(err, passes.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, tle.ErrUnknownObject):
		return http.StatusNotFound
	case errors.As(err, &fe),
		errors.Is(err, propagation.ErrInvalidElements),
		errors.Is(err, propagation.ErrSGP4Unsupported),
		errors.Is(err, orbit.ErrSingularity),
		errors.Is(err, orbit.ErrNotConverged),
		errors.Is(err, orbit.ErrInvalidMeanMotion),
		errors.Is(err, orbit.ErrSubsurfaceOrbit),
		errors.Is(err, transform.ErrDegenerate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tle.ErrNoCatalog):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError writes err as JSON with the status from statusFor. Internal
// errors are logged and their message withheld.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error(), RequestID: RequestID(r.Context())}

	var fe *tle.FieldError
	if errors.As(err, &fe) {
		resp.Field = fe.Field
		resp.Line = fe.Line
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", resp.RequestID,
			"path", r.URL.Path,
			"error", err,
		)
		resp.Error = http.StatusText(status)
	} else {
		s.logger.Debug("request rejected",
			"request_id", resp.RequestID,
			"status", status,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, resp)
}
