package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/unitkey/unitkey-core/internal/ledger"
)

// requestPassRequest is the body for POST /passes. target_device_id selects
// one of the caller's registered devices; empty selects the most recently
// used one.
type requestPassRequest struct {
	TargetDeviceID string `json:"target_device_id,omitempty"`
}

// passResponse is the issuance result.
type passResponse struct {
	RoutePass     string    `json:"route_pass"`
	DeviceID      string    `json:"device_id"`
	AudienceCount int       `json:"audience_count"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// handleRequestPass issues a route pass for the caller.
func (s *Server) handleRequestPass(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req requestPassRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}

	pass, err := s.issuer.Issue(r.Context(), identity, req.TargetDeviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, passResponse{
		RoutePass:     pass.Token,
		DeviceID:      pass.DeviceID,
		AudienceCount: pass.Audiences,
		ExpiresAt:     pass.Claims.ExpiresAt.Time,
	})
}

// handlePassHistory returns a page of issuance history. Callers read their
// own history; administrators may read anyone's.
func (s *Server) handlePassHistory(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = identity.UserID
	}
	if userID != identity.UserID && !identity.IsAdmin() {
		writeForbidden(w, "history is limited to your own account")
		return
	}

	filter, err := parseHistoryFilter(r)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	history, err := s.history.ListForUser(r.Context(), userID, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	total, err := s.history.CountForUser(r.Context(), userID, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"history": history,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// parseHistoryFilter reads limit, offset, and the optional RFC3339 date
// window from the query string.
func parseHistoryFilter(r *http.Request) (ledger.HistoryFilter, error) {
	var filter ledger.HistoryFilter

	query := r.URL.Query()
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, errInvalidQueryParam("limit")
		}
		filter.Limit = n
	}
	if v := query.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, errInvalidQueryParam("offset")
		}
		filter.Offset = n
	}
	if v := query.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errInvalidQueryParam("start")
		}
		filter.Start = &t
	}
	if v := query.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errInvalidQueryParam("end")
		}
		filter.End = &t
	}

	return filter, nil
}

type queryParamError string

func (e queryParamError) Error() string {
	return "invalid query parameter: " + string(e)
}

func errInvalidQueryParam(name string) error {
	return queryParamError(name)
}
