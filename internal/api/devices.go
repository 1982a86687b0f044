package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unitkey/unitkey-core/internal/device"
)

// registerDeviceRequest is the body for POST /devices.
type registerDeviceRequest struct {
	AppDeviceID string `json:"app_device_id"`
	PublicKey   string `json:"public_key"`
	Platform    string `json:"platform"`
	DeviceName  string `json:"device_name,omitempty"`
}

// deviceLimitResponse is the 409 payload when the device cap is reached. It
// carries the current device list so clients can prompt the user to revoke
// an old device.
type deviceLimitResponse struct {
	Error
	Devices    []device.Identity `json:"devices"`
	MaxDevices int               `json:"max_devices"`
}

// handleRegisterDevice registers a device key, or rotates it when the
// (user, app device id) pair is already registered.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.AppDeviceID == "" || req.PublicKey == "" {
		writeValidationError(w, "app_device_id and public_key are required")
		return
	}

	registered, err := s.devices.RegisterOrRotate(r.Context(),
		identity.UserID, req.AppDeviceID, req.PublicKey, device.Platform(req.Platform), req.DeviceName)
	if err != nil {
		var limitErr *device.LimitError
		if errors.As(err, &limitErr) {
			writeJSON(w, http.StatusConflict, deviceLimitResponse{
				Error: Error{
					Status:  http.StatusConflict,
					Code:    ErrCodeConflict,
					Message: limitErr.Error(),
				},
				Devices:    limitErr.Devices,
				MaxDevices: limitErr.Max,
			})
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registered)
}

// handleListDevices returns the caller's active devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	devices, err := s.devices.ListForUser(r.Context(), identity.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// rotateKeyRequest is the body for PUT /devices/{appDeviceID}/key.
type rotateKeyRequest struct {
	PublicKey string `json:"public_key"`
}

// handleRotateKey replaces the key of an existing registration. Unlike
// registration it never creates.
func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	appDeviceID := chi.URLParam(r, "appDeviceID")

	var req rotateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.PublicKey == "" {
		writeValidationError(w, "public_key is required")
		return
	}

	rotated, err := s.devices.RotateKey(r.Context(), identity.UserID, appDeviceID, req.PublicKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rotated)
}

// handleRevokeOwnDevice revokes one of the caller's own devices.
func (s *Server) handleRevokeOwnDevice(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	deviceID := chi.URLParam(r, "id")

	dev, err := s.devices.GetByID(r.Context(), deviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if dev.UserID != identity.UserID {
		writeForbidden(w, "device belongs to another user")
		return
	}

	s.revokeDevice(w, r, dev, identity.UserID)
}

// handleRevokeAnyDevice revokes any device. Global administrators only.
func (s *Server) handleRevokeAnyDevice(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if !identity.IsAdmin() {
		writeForbidden(w, "administrator role required")
		return
	}

	dev, err := s.devices.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.revokeDevice(w, r, dev, identity.UserID)
}

// revokeDevice performs the revoke and publishes the revocation event.
// Revocation is idempotent.
func (s *Server) revokeDevice(w http.ResponseWriter, r *http.Request, dev *device.Identity, revokedBy string) {
	if err := s.devices.Revoke(r.Context(), dev.ID); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.events.PublishDeviceRevoked(r.Context(), dev.ID, dev.UserID, revokedBy); err != nil {
		s.logger.Warn("device revocation event publish failed", "device_id", dev.ID, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}
