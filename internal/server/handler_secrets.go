package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/batchpoll/pkg/model"
)

func (s *Server) handleCreateSecret(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.CreateSecretRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	sec, err := s.admin.CreateSecret(r.Context(), req)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondCreated(w, reqID, sec)
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	list, err := s.admin.ListSecrets(r.Context())
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if list == nil {
		list = []*model.Secret{}
	}
	respondOK(w, reqID, list)
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid query",
				model.FieldError{Field: "force", Message: "force must be a boolean"}))
			return
		}
		force = b
	}

	if err := s.admin.DeleteSecret(r.Context(), id, force); err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"id": id, "deleted": true})
}
