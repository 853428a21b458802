package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"chargehub/internal/repository"
	"chargehub/internal/session"
)

const userIDHeader = "X-User-ID"

// StartRequest is the POST /sessions/start payload.
type StartRequest struct {
	UserID    string `json:"user_id"`
	StationID string `json:"station_id"`
	ChargerID string `json:"charger_id"`
}

// StopRequest is the POST /sessions/stop payload.
type StopRequest struct {
	SessionID string `json:"session_id"`
}

// NewSessionStartHandler returns POST /sessions/start handler.
func NewSessionStartHandler(coordinator *session.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.UserID == "" || req.StationID == "" || req.ChargerID == "" {
			writeError(w, http.StatusBadRequest, "user_id, station_id and charger_id required")
			return
		}

		sess, err := coordinator.Start(r.Context(), req.UserID, req.StationID, req.ChargerID)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

// NewSessionStopHandler returns POST /sessions/stop handler.
func NewSessionStopHandler(coordinator *session.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StopRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, "session_id required")
			return
		}

		sess, err := coordinator.Stop(r.Context(), req.SessionID)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

// NewSessionStatusHandler returns GET /sessions/status handler.
func NewSessionStatusHandler(coordinator *session.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			writeError(w, http.StatusBadRequest, "session_id required")
			return
		}

		sess, err := coordinator.Status(r.Context(), sessionID)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

// NewSessionsMeHandler returns GET /sessions/me handler.
func NewSessionsMeHandler(coordinator *session.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userIDHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing user id header")
			return
		}

		sessions, err := coordinator.History(r.Context(), userID, 50)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch sessions")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessions": sessions,
		})
	}
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrSessionConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "session operation failed")
	}
}
