package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/layerwise/internal/config"
)

// handleHealth handles health check requests. A failed knowledge-base check
// reports the service as degraded but still answers 200 so the engine stays
// usable without the knowledge base.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	response := map[string]interface{}{
		"version":                s.version,
		"service":                "layerwise",
		"knowledge_base_enabled": s.records != nil,
	}
	if s.health != nil {
		if report := s.health.LastReport(); report != nil {
			response["knowledge_base"] = report
			if !report.Healthy {
				status = "degraded"
			}
		}
	}
	response["status"] = status

	s.writeJSON(w, http.StatusOK, response)
}

// handleProfiles handles GET /api/profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	keys := s.profiles.Keys()
	profiles := make([]config.Profile, 0, len(keys))
	for _, key := range keys {
		profiles = append(profiles, s.profiles[key])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"profiles": profiles,
			"default":  s.defaultProfile(),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (s *Server) defaultProfile() string {
	profile, _ := s.profiles.Resolve(s.cfg.Profile)
	return profile.Key
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
