package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "batchpoll API",
		Version:     "v1",
		Description: "Polls upstream batch jobs and fires completion triggers",
		Endpoints: []endpointInfo{
			{"/api/v1/jobs", []string{"GET", "POST"}, "List jobs (?status=&limit=&offset=) or create one"},
			{"/api/v1/jobs/{id}", []string{"GET", "PATCH", "DELETE"}, "Single job; PATCH edits name and interval"},
			{"/api/v1/jobs/{id}/pause", []string{"POST"}, "Stop polling an active job"},
			{"/api/v1/jobs/{id}/resume", []string{"POST"}, "Resume a paused job; it is due immediately"},
			{"/api/v1/jobs/{id}/logs", []string{"GET"}, "Poll log, newest first (?limit=)"},
			{"/api/v1/secrets", []string{"GET", "POST"}, "Credential metadata; POST stores a new credential"},
			{"/api/v1/secrets/{id}", []string{"DELETE"}, "Delete a credential (?force=true when in use)"},
			{"/api/v1/health", []string{"GET"}, "Uptime, scheduler ticks and job counts"},
			{"/metrics", []string{"GET"}, "Prometheus metrics"},
		},
	})
}
