package api

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	serviceUnavailableKey = "service_unavailable"
)

// handleGetPinHistory returns recorded pin events for a device, newest first.
func (s *Server) handleGetPinHistory(w http.ResponseWriter, r *http.Request) {
	deviceID, limit, ok := s.historyParams(w, r)
	if !ok {
		return
	}

	events, err := s.history.RecentPinEvents(r.Context(), deviceID, limit)
	if err != nil {
		s.logger.Warn("loading pin history failed", "device", deviceID, "error", err)
		writeInternalError(w, "failed to load device history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"history":   events,
		"count":     len(events),
	})
}

// handleGetCommandLog returns the command log for a device, newest first.
func (s *Server) handleGetCommandLog(w http.ResponseWriter, r *http.Request) {
	deviceID, limit, ok := s.historyParams(w, r)
	if !ok {
		return
	}

	commands, err := s.history.RecentCommands(r.Context(), deviceID, limit)
	if err != nil {
		s.logger.Warn("loading command log failed", "device", deviceID, "error", err)
		writeInternalError(w, "failed to load command log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"commands":  commands,
		"count":     len(commands),
	})
}

// historyParams validates the device and limit shared by the history
// endpoints, writing the error response itself.
func (s *Server) historyParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return "", 0, false
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return "", 0, false
	}

	if _, found := s.bridge.DeviceStatus(deviceID); !found {
		writeNotFound(w, "device not found")
		return "", 0, false
	}

	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, serviceUnavailableKey, "history unavailable")
		return "", 0, false
	}
	return deviceID, limit, true
}

// parseHistoryLimit parses the limit query parameter with bounds enforcement.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum of %d", maxHistoryLimit)
	}

	return limit, nil
}
