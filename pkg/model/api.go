package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions configures list queries with pagination and filtering.
type ListOptions struct {
	Limit  int
	Offset int
	Status JobStatus // optional status filter
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20, Offset: 0}
}

// Clamp enforces limits (max 100, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// CreateJobRequest is the body of POST /api/v1/jobs.
type CreateJobRequest struct {
	Name            string `json:"name"`
	BatchHandle     string `json:"batch_handle"`
	StatusSecretID  string `json:"status_secret_id"`
	TriggerSecretID string `json:"trigger_secret_id"`
	Target          Target `json:"target"`
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
}

// UpdateJobRequest is the body of PATCH /api/v1/jobs/{id}.
type UpdateJobRequest struct {
	Name            *string `json:"name,omitempty"`
	IntervalSeconds *int    `json:"interval_seconds,omitempty"`
}

// CreateSecretRequest is the body of POST /api/v1/secrets. Which credential
// fields are required depends on Kind.
type CreateSecretRequest struct {
	Name         string     `json:"name"`
	Kind         SecretKind `json:"kind"`
	APIKey       string     `json:"api_key,omitempty"`
	Organization string     `json:"organization,omitempty"`
	Token        string     `json:"token,omitempty"`
}

// Credential builds the typed credential carried by the request.
func (r CreateSecretRequest) Credential() (Credential, error) {
	return NewCredential(r.Kind, r.APIKey, r.Organization, r.Token)
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Ticks     uint64            `json:"ticks"`
	JobCounts map[JobStatus]int `json:"job_counts"`
}
