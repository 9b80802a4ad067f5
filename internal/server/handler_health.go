package server

import (
	"net/http"
	"time"

	"github.com/me/batchpoll/pkg/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	resp := model.HealthResponse{
		Status:  "healthy",
		Version: Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.ticks != nil {
		resp.Ticks = s.ticks.TickCount()
	}

	counts, err := s.admin.JobCounts(r.Context())
	if err != nil {
		s.logger.Error("health: count jobs", "error", err)
		resp.Status = "degraded"
	}
	resp.JobCounts = counts
	respondOK(w, reqID, resp)
}
