package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleSessions handles GET /api/v1/sessions. It lists active sessions only;
// pins, keys, and transaction bytes are never exposed here.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := QueryResponse{
		Data:        s.store.ListActive(),
		GeneratedAt: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSession handles GET /api/v1/session?id=<session_id>. Terminal
// sessions are served from the archive when one is configured.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "id parameter is required"})
		return
	}

	if snap, err := s.store.Get(id); err == nil {
		response := QueryResponse{
			Data: map[string]interface{}{
				"session_id":        snap.SessionID,
				"status":            snap.Status,
				"threshold":         snap.Threshold,
				"signature_count":   snap.SignatureCount,
				"participant_count": snap.ParticipantCount,
				"created_at":        snap.CreatedAt,
				"expires_at":        snap.ExpiresAt,
			},
			GeneratedAt: time.Now(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
		return
	}

	if s.archive != nil {
		if row, err := s.archive.GetArchivedSession(id); err == nil {
			response := QueryResponse{
				Data:        row,
				GeneratedAt: time.Now(),
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(response)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(ErrorResponse{Error: "session not found"})
}
