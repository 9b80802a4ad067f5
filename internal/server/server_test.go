package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/me/batchpoll/internal/admin"
	"github.com/me/batchpoll/internal/config"
	"github.com/me/batchpoll/internal/logging"
	"github.com/me/batchpoll/internal/secrets"
	"github.com/me/batchpoll/internal/store"
	"github.com/me/batchpoll/pkg/model"
)

type staticTicks uint64

func (t staticTicks) TickCount() uint64 { return uint64(t) }

func testServer(t *testing.T, opts ...func(*config.ServerConfig)) *Server {
	t.Helper()
	logger := logging.Discard()
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	sealer, err := secrets.NewSealer("test-key")
	if err != nil {
		t.Fatal(err)
	}
	mgr := secrets.NewManager(st, sealer, secrets.Options{}, logger)
	svc := admin.NewService(st, mgr, admin.DefaultLimits(), logger)

	cfg := config.DefaultServerConfig()
	for _, o := range opts {
		o(&cfg)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "batchpoll_test_total", Help: "test"}))
	return New(cfg, svc, logger, WithTickCounter(staticTicks(7)), WithGatherer(reg))
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func do(t *testing.T, srv *Server, method, path, body string, wantStatus int) envelope {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func createSecrets(t *testing.T, srv *Server) (openaiID, keboolaID string) {
	t.Helper()
	var sec model.Secret
	env := do(t, srv, "POST", "/api/v1/secrets", `{"name":"oa","kind":"openai","api_key":"sk-123456"}`, http.StatusCreated)
	json.Unmarshal(env.Data, &sec)
	openaiID = sec.ID
	env = do(t, srv, "POST", "/api/v1/secrets", `{"name":"kbc","kind":"keboola","token":"kbc-123456"}`, http.StatusCreated)
	json.Unmarshal(env.Data, &sec)
	keboolaID = sec.ID
	return openaiID, keboolaID
}

func createJob(t *testing.T, srv *Server, oa, kb string) model.Job {
	t.Helper()
	body := `{"name":"nightly","batch_handle":"batch_1","status_secret_id":"` + oa +
		`","trigger_secret_id":"` + kb +
		`","target":{"stack_url":"https://connection.keboola.com","component_id":"keboola.orchestrator","configuration_id":"7"},"interval_seconds":60}`
	env := do(t, srv, "POST", "/api/v1/jobs", body, http.StatusCreated)
	var job model.Job
	if err := json.Unmarshal(env.Data, &job); err != nil {
		t.Fatal(err)
	}
	return job
}

func TestDiscovery(t *testing.T) {
	srv := testServer(t)
	env := do(t, srv, "GET", "/api/v1/", "", http.StatusOK)
	if env.Status != "ok" || env.RequestID == "" {
		t.Errorf("status = %q request_id = %q", env.Status, env.RequestID)
	}
	var data discoveryResponse
	json.Unmarshal(env.Data, &data)
	if data.Name != "batchpoll API" || len(data.Endpoints) < 8 {
		t.Errorf("discovery = %+v", data)
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t)
	oa, kb := createSecrets(t, srv)
	createJob(t, srv, oa, kb)

	env := do(t, srv, "GET", "/api/v1/health", "", http.StatusOK)
	var data model.HealthResponse
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" || data.Version != Version {
		t.Errorf("health = %+v", data)
	}
	if data.Ticks != 7 {
		t.Errorf("ticks = %d, want 7", data.Ticks)
	}
	if data.JobCounts[model.JobStatusActive] != 1 {
		t.Errorf("job_counts = %v", data.JobCounts)
	}
}

func TestMetrics(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "batchpoll_test_total") {
		t.Errorf("metrics body missing registered counter:\n%s", w.Body.String())
	}
}

func TestJobLifecycle(t *testing.T) {
	srv := testServer(t)
	oa, kb := createSecrets(t, srv)
	job := createJob(t, srv, oa, kb)

	if !strings.HasPrefix(job.ID, "job_") || job.Status != model.JobStatusActive || job.NextCheckAt == nil {
		t.Fatalf("created job = %+v", job)
	}

	env := do(t, srv, "GET", "/api/v1/jobs/"+job.ID, "", http.StatusOK)
	var got model.Job
	json.Unmarshal(env.Data, &got)
	if got.BatchHandle != "batch_1" {
		t.Errorf("batch_handle = %q", got.BatchHandle)
	}

	env = do(t, srv, "POST", "/api/v1/jobs/"+job.ID+"/pause", "", http.StatusOK)
	var raw map[string]any
	json.Unmarshal(env.Data, &raw)
	if raw["status"] != "paused" {
		t.Errorf("status = %v, want paused", raw["status"])
	}
	if _, ok := raw["next_check_at"]; ok {
		t.Error("next_check_at should be absent for a paused job")
	}
	if _, ok := raw["last_error"]; ok {
		t.Error("last_error should be absent when empty")
	}

	do(t, srv, "POST", "/api/v1/jobs/"+job.ID+"/resume", "", http.StatusOK)

	env = do(t, srv, "PATCH", "/api/v1/jobs/"+job.ID, `{"name":"renamed","interval_seconds":90}`, http.StatusOK)
	json.Unmarshal(env.Data, &got)
	if got.Name != "renamed" || got.IntervalSeconds != 90 || got.Status != model.JobStatusActive {
		t.Errorf("patched = %+v", got)
	}

	env = do(t, srv, "GET", "/api/v1/jobs/"+job.ID+"/logs", "", http.StatusOK)
	if string(env.Data) != "[]" {
		t.Errorf("logs = %s, want []", env.Data)
	}

	do(t, srv, "DELETE", "/api/v1/jobs/"+job.ID, "", http.StatusOK)
	do(t, srv, "DELETE", "/api/v1/jobs/"+job.ID, "", http.StatusOK)
	env = do(t, srv, "GET", "/api/v1/jobs/"+job.ID, "", http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestListJobs(t *testing.T) {
	srv := testServer(t)
	oa, kb := createSecrets(t, srv)
	for i := 0; i < 3; i++ {
		createJob(t, srv, oa, kb)
	}

	env := do(t, srv, "GET", "/api/v1/jobs?limit=2", "", http.StatusOK)
	var jobs []model.Job
	json.Unmarshal(env.Data, &jobs)
	if len(jobs) != 2 {
		t.Errorf("len = %d, want 2", len(jobs))
	}
	if env.Pagination == nil || env.Pagination.Total != 3 || !env.Pagination.HasMore {
		t.Errorf("pagination = %+v", env.Pagination)
	}

	env = do(t, srv, "GET", "/api/v1/jobs?status=paused", "", http.StatusOK)
	if string(env.Data) != "[]" {
		t.Errorf("paused jobs = %s, want []", env.Data)
	}

	do(t, srv, "GET", "/api/v1/jobs?status=bogus", "", http.StatusBadRequest)
	do(t, srv, "GET", "/api/v1/jobs?limit=abc", "", http.StatusBadRequest)
}

func TestCreateJob_Errors(t *testing.T) {
	srv := testServer(t)
	oa, _ := createSecrets(t, srv)

	env := do(t, srv, "POST", "/api/v1/jobs", "not json", http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Errorf("error = %+v", env.Error)
	}

	body := `{"name":"x","batch_handle":"b","status_secret_id":"` + oa + `","trigger_secret_id":"` + oa +
		`","target":{"stack_url":"https://k","component_id":"c","configuration_id":"1"}}`
	env = do(t, srv, "POST", "/api/v1/jobs", body, http.StatusBadRequest)
	if env.Error == nil || len(env.Error.Details) == 0 || env.Error.Details[0].Field != "trigger_secret_id" {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestPauseMissingJob(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", "/api/v1/jobs/job_missing/pause", "", http.StatusNotFound)
}

func TestSecrets(t *testing.T) {
	srv := testServer(t)
	oa, kb := createSecrets(t, srv)

	env := do(t, srv, "GET", "/api/v1/secrets", "", http.StatusOK)
	if strings.Contains(string(env.Data), "sk-123456") || strings.Contains(string(env.Data), "kbc-123456") {
		t.Fatalf("secret listing leaks credential material: %s", env.Data)
	}
	var list []model.Secret
	json.Unmarshal(env.Data, &list)
	if len(list) != 2 {
		t.Errorf("len = %d, want 2", len(list))
	}

	do(t, srv, "POST", "/api/v1/secrets", `{"name":"oa","kind":"openai","api_key":"k"}`, http.StatusConflict)
	do(t, srv, "POST", "/api/v1/secrets", `{"name":"x","kind":"aws"}`, http.StatusBadRequest)

	createJob(t, srv, oa, kb)
	env = do(t, srv, "DELETE", "/api/v1/secrets/"+oa, "", http.StatusConflict)
	if env.Error == nil || env.Error.Code != model.ErrConflict {
		t.Errorf("error = %+v", env.Error)
	}
	do(t, srv, "DELETE", "/api/v1/secrets/"+oa+"?force=maybe", "", http.StatusBadRequest)
	do(t, srv, "DELETE", "/api/v1/secrets/"+oa+"?force=true", "", http.StatusOK)
	do(t, srv, "DELETE", "/api/v1/secrets/"+oa, "", http.StatusNotFound)
}

func TestAdminToken(t *testing.T) {
	srv := testServer(t, func(c *config.ServerConfig) { c.AdminToken = "s3cret" })

	env := do(t, srv, "GET", "/api/v1/jobs", "", http.StatusUnauthorized)
	if env.Error == nil || env.Error.Code != model.ErrUnauthorized {
		t.Errorf("error = %+v", env.Error)
	}

	// Health stays open.
	do(t, srv, "GET", "/api/v1/health", "", http.StatusOK)

	req := httptest.NewRequest("GET", "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("with token: status = %d, body=%s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if id := w.Header().Get("X-Request-ID"); !strings.HasPrefix(id, "req_") {
		t.Errorf("X-Request-ID = %q", id)
	}
}
