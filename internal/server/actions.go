package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	staycache "github.com/harborview/staycache/internal"
)

// maxActionBody is the maximum allowed action request body size (1 MB).
const maxActionBody = 1 << 20

// handleAction returns a handler for a fixed gateway action. The request
// body is the parameter bag; an empty body means no parameters.
func (s *server) handleAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serveAction(w, r, action)
	}
}

// handleGenericAction serves POST /v1/actions/{action}, the route through
// which unknown upstream actions reach the gateway's audit-and-deny policy.
func (s *server) handleGenericAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	if action == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("action is required"))
		return
	}
	s.serveAction(w, r, action)
}

func (s *server) serveAction(w http.ResponseWriter, r *http.Request, action string) {
	params, ok := decodeParams(w, r)
	if !ok {
		return
	}

	res := s.deps.Gateway.Handle(r.Context(), action, params)

	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadRequest
		if res.HTTPStatus > 0 {
			status = res.HTTPStatus
		}
	}

	// Single-record fetches render data as one object, not a one-element
	// list, matching the upstream wire shape.
	if action == staycache.ActionBookingsGet && res.Success && len(res.Records) == 1 {
		writeJSON(w, status, singleResult{
			Data:     res.Records[0],
			Success:  true,
			CacheHit: res.CacheHit,
		})
		return
	}
	writeJSON(w, status, res)
}

// singleResult is the envelope for one-record responses.
type singleResult struct {
	Data     json.RawMessage `json:"data"`
	Success  bool            `json:"success"`
	Message  string          `json:"message,omitempty"`
	CacheHit bool            `json:"_cache_hit,omitempty"`
}

// decodeParams reads the parameter bag from the request body. Empty bodies
// are allowed; malformed JSON writes a 400 and returns false.
func decodeParams(w http.ResponseWriter, r *http.Request) (staycache.Params, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxActionBody)
	params := staycache.Params{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		if errors.Is(err, io.EOF) {
			return params, true
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return nil, false
	}
	return params, true
}
