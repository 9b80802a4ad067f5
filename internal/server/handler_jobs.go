package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/batchpoll/pkg/model"
)

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.CreateJobRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	job, err := s.admin.CreateJob(r.Context(), req)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondCreated(w, reqID, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts := model.DefaultListOptions()
	q := r.URL.Query()
	var details []model.FieldError
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details = append(details, model.FieldError{Field: "limit", Message: "limit must be an integer"})
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details = append(details, model.FieldError{Field: "offset", Message: "offset must be an integer"})
		}
		opts.Offset = n
	}
	if len(details) > 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid query", details...))
		return
	}
	opts.Status = model.JobStatus(q.Get("status"))

	jobs, total, opts, err := s.admin.ListJobs(r.Context(), opts)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	respondList(w, reqID, jobs, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	job, err := s.admin.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, job)
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.UpdateJobRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	job, err := s.admin.UpdateJob(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.admin.DeleteJob(r.Context(), id); err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"id": id, "deleted": true})
}

func (s *Server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	job, err := s.admin.PauseJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, job)
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	job, err := s.admin.ResumeJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, job)
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid query",
				model.FieldError{Field: "limit", Message: "limit must be an integer"}))
			return
		}
		limit = n
	}

	logs, err := s.admin.JobLogs(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if logs == nil {
		logs = []*model.PollLog{}
	}
	respondOK(w, reqID, logs)
}

// decodeBody decodes a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, reqID string, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return false
	}
	return true
}
