package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unitkey/unitkey-core/internal/sharing"
)

// handleCreateShare creates or reactivates a sharing grant.
func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req sharing.GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.UnitID == "" || req.GranteeID == "" {
		writeValidationError(w, "unit_id and grantee_id are required")
		return
	}

	grant, err := s.sharing.Grant(r.Context(), identity, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

// handleInviteShare shares a unit with a contact identifier. Unknown
// contacts produce a pending out-of-band invite (202) instead of a grant.
func (s *Server) handleInviteShare(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req sharing.InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.UnitID == "" || req.Contact == "" {
		writeValidationError(w, "unit_id and contact are required")
		return
	}

	result, err := s.sharing.Invite(r.Context(), identity, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Pending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// handleListShares returns a page of grants visible to the caller. Active
// grants only unless is_active=false is passed explicitly.
func (s *Server) handleListShares(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	query := r.URL.Query()
	filter := sharing.Filter{
		UnitID:      query.Get("unit_id"),
		GrantorID:   query.Get("grantor_id"),
		GranteeID:   query.Get("grantee_id"),
		AccessLevel: sharing.AccessLevel(query.Get("access_level")),
	}
	if v := query.Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeValidationError(w, "invalid query parameter: is_active")
			return
		}
		filter.IsActive = &active
	}
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeValidationError(w, "invalid query parameter: limit")
			return
		}
		filter.Limit = n
	}
	if v := query.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeValidationError(w, "invalid query parameter: offset")
			return
		}
		filter.Offset = n
	}

	result, err := s.sharing.List(r.Context(), identity, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetShare returns a single grant visible to the caller.
func (s *Server) handleGetShare(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	grant, err := s.sharing.GetByID(r.Context(), identity, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

// handleUpdateShare edits a grant's access level, expiry, notes, or
// restrictions.
func (s *Server) handleUpdateShare(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req sharing.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	grant, err := s.sharing.Update(r.Context(), identity, chi.URLParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

// handleRevokeShare deactivates a grant and publishes the revocation event.
func (s *Server) handleRevokeShare(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	grant, err := s.sharing.Revoke(r.Context(), identity, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.events.PublishShareRevoked(r.Context(),
		grant.ID, grant.UnitID, grant.SharedWithUserID, identity.UserID); err != nil {
		s.logger.Warn("share revocation event publish failed", "grant_id", grant.ID, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleExpiredShares lists active grants whose expiry has passed, for the
// external sweep job. Administrators only.
func (s *Server) handleExpiredShares(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	grants, err := s.sharing.ListExpired(r.Context(), identity, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
}

// handleUnitRoster returns who holds access on a unit. Grantees see only
// their own rows.
func (s *Server) handleUnitRoster(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	includeInactive := false
	if v := r.URL.Query().Get("include_inactive"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeValidationError(w, "invalid query parameter: include_inactive")
			return
		}
		includeInactive = parsed
	}

	roster, err := s.sharing.GetUnitRoster(r.Context(), identity, chi.URLParam(r, "id"), includeInactive)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roster": roster})
}
