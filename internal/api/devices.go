package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/webio-bridge/internal/bridge"
	"github.com/nerrad567/webio-bridge/internal/history"
)

// maxDeviceIDLen bounds the {id} path parameter.
const maxDeviceIDLen = 64

// OutputRequest is the body of POST /devices/{id}/outputs/{pin}.
type OutputRequest struct {
	ID         string `json:"id,omitempty"`
	Action     string `json:"action"`
	DurationMS int    `json:"duration_ms,omitempty"`
}

// handleListDevices returns status for every device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.bridge.Status()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns status for one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	st, found := s.bridge.DeviceStatus(deviceID)
	if !found {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleSubmitOutput queues an output change.
//
// Responses:
//   - 202 with the submission when queued
//   - 400 for a bad body, pin, action or pulse duration
//   - 404 for an unknown device
//   - 503 when the device queue is full
func (s *Server) handleSubmitOutput(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	pin, err := strconv.Atoi(chi.URLParam(r, "pin"))
	if err != nil {
		writeError(w, http.StatusBadRequest, bridge.ErrCodeInvalidParameters, "pin must be a number")
		return
	}

	var req OutputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	sub, err := s.bridge.Submit(r.Context(), bridge.SubmitRequest{
		ID:       req.ID,
		DeviceID: deviceID,
		Pin:      pin,
		Action:   req.Action,
		Duration: time.Duration(req.DurationMS) * time.Millisecond,
		Source:   history.SourceAPI,
	})
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, sub)
}

// writeSubmitError maps a submission error onto an HTTP status.
func writeSubmitError(w http.ResponseWriter, err error) {
	code := bridge.ErrorCode(err)
	switch code {
	case bridge.ErrCodeNotConfigured:
		writeError(w, http.StatusNotFound, code, err.Error())
	case bridge.ErrCodeInvalidCommand, bridge.ErrCodeInvalidParameters:
		writeError(w, http.StatusBadRequest, code, err.Error())
	case bridge.ErrCodeQueueFull:
		writeError(w, http.StatusServiceUnavailable, code, err.Error())
	default:
		writeInternalError(w, "failed to queue command")
	}
}

// deviceIDParam reads {id}, writing a 400 when it is unusable.
func deviceIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	deviceID := chi.URLParam(r, "id")
	if deviceID == "" || len(deviceID) > maxDeviceIDLen {
		writeBadRequest(w, "invalid device ID")
		return "", false
	}
	return deviceID, true
}
