package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/me/batchpoll/internal/logging"
	"github.com/me/batchpoll/pkg/model"
)

var (
	openaiCred  = model.OpenAICredential{APIKey: "sk-test", Organization: "org-1"}
	keboolaCred = model.KeboolaCredential{Token: "kbc-test"}
)

func newOpenAI(t *testing.T, h http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(Options{BaseURL: srv.URL, Timeout: 2 * time.Second}, logging.Discard())
}

func TestOpenAI_StatusMapping(t *testing.T) {
	tests := []struct {
		status string
		want   State
	}{
		{"validating", StateRunning},
		{"in_progress", StateRunning},
		{"finalizing", StateRunning},
		{"cancelling", StateRunning},
		{"completed", StateSucceeded},
		{"failed", StateErrored},
		{"expired", StateErrored},
		{"cancelled", StateErrored},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			c := newOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"id":"batch_1","status":%q}`, tt.status)
			})
			got, err := c.QueryStatus(context.Background(), "batch_1", openaiCred)
			if err != nil {
				t.Fatalf("QueryStatus: %v", err)
			}
			if got.State != tt.want {
				t.Errorf("State = %q, want %q", got.State, tt.want)
			}
			if !strings.HasPrefix(got.Detail, tt.status) {
				t.Errorf("Detail = %q, want prefix %q", got.Detail, tt.status)
			}
		})
	}
}

func TestOpenAI_RequestShape(t *testing.T) {
	var gotPath, gotAuth, gotOrg string
	c := newOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotOrg = r.Header.Get("OpenAI-Organization")
		w.Write([]byte(`{"id":"batch_abc","status":"failed","request_counts":{"total":10,"completed":4,"failed":6},"errors":{"data":[{"code":"invalid_json","message":"line 3"}]}}`))
	})

	got, err := c.QueryStatus(context.Background(), "batch_abc", openaiCred)
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/batches/batch_abc" {
		t.Errorf("path = %q, want /batches/batch_abc", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotOrg != "org-1" {
		t.Errorf("OpenAI-Organization = %q", gotOrg)
	}
	want := "failed (4/10 completed, 6 failed): invalid_json line 3"
	if got.Detail != want {
		t.Errorf("Detail = %q, want %q", got.Detail, want)
	}
}

func TestOpenAI_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		body      string
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, `oops`, true},
		{"bad gateway", http.StatusBadGateway, ``, true},
		{"rate limited", http.StatusTooManyRequests, `slow down`, true},
		{"not found", http.StatusNotFound, `no such batch`, false},
		{"unauthorized", http.StatusUnauthorized, `bad key`, false},
		{"unknown status", http.StatusOK, `{"status":"paused"}`, false},
		{"not json", http.StatusOK, `<html>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			})
			_, err := c.QueryStatus(context.Background(), "batch_1", openaiCred)
			if err == nil {
				t.Fatal("expected error")
			}
			var pe *Error
			if !errors.As(err, &pe) {
				t.Fatalf("error type = %T, want *Error", err)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable(%v) = %v, want %v", err, IsRetryable(err), tt.retryable)
			}
		})
	}
}

func TestOpenAI_TimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c := NewOpenAIClient(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, logging.Discard())
	start := time.Now()
	_, err := c.QueryStatus(context.Background(), "batch_1", openaiCred)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsRetryable(err) {
		t.Errorf("timeout should be retryable: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("call took %v, per-call timeout not applied", time.Since(start))
	}
}

func TestOpenAI_ConnectionRefusedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewOpenAIClient(Options{BaseURL: url, Timeout: time.Second}, logging.Discard())
	_, err := c.QueryStatus(context.Background(), "batch_1", openaiCred)
	if !IsRetryable(err) {
		t.Errorf("connection failure should be retryable: %v", err)
	}
}

func TestOpenAI_WrongCredentialKind(t *testing.T) {
	c := NewOpenAIClient(Options{BaseURL: "http://127.0.0.1:1"}, logging.Discard())
	_, err := c.QueryStatus(context.Background(), "batch_1", keboolaCred)
	if err == nil || IsRetryable(err) {
		t.Errorf("wrong kind err = %v, want non-retryable error", err)
	}
	_, err = c.QueryStatus(context.Background(), "batch_1", nil)
	if err == nil || IsRetryable(err) || !strings.Contains(err.Error(), "no credential") {
		t.Errorf("nil credential err = %v, want non-retryable no credential error", err)
	}
}

func TestKeboola_NilCredential(t *testing.T) {
	c := NewKeboolaClient(Options{Timeout: time.Second}, logging.Discard())
	target := model.Target{StackURL: "http://127.0.0.1:1", ComponentID: "keboola.orchestrator", ConfigurationID: "1"}
	_, err := c.TriggerCompletion(context.Background(), "job_1", nil, target)
	if err == nil || IsRetryable(err) || !strings.Contains(err.Error(), "no credential") {
		t.Errorf("nil credential err = %v, want non-retryable no credential error", err)
	}
}

func TestKeboola_Trigger(t *testing.T) {
	var got jobRequest
	var gotToken, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-StorageApi-Token")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"9001","status":"created","url":"https://queue/jobs/9001"}`))
	}))
	t.Cleanup(srv.Close)

	c := NewKeboolaClient(Options{Timeout: time.Second}, logging.Discard())
	target := model.Target{StackURL: srv.URL + "/", ComponentID: "keboola.orchestrator", ConfigurationID: "77"}
	res, err := c.TriggerCompletion(context.Background(), "job_1", keboolaCred, target)
	if err != nil {
		t.Fatalf("TriggerCompletion: %v", err)
	}
	if res.RunID != "9001" {
		t.Errorf("RunID = %q, want 9001", res.RunID)
	}
	if gotPath != "/v2/storage/jobs" {
		t.Errorf("path = %q", gotPath)
	}
	if gotToken != "kbc-test" {
		t.Errorf("token header = %q", gotToken)
	}
	want := jobRequest{Config: "77", Component: "keboola.orchestrator", Tag: "batchpoll-job_1"}
	if got != want {
		t.Errorf("body = %+v, want %+v", got, want)
	}
}

func TestKeboola_ResponseVariants(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		body      string
		wantRunID string
		wantErr   bool
		retryable bool
	}{
		{"numeric id", http.StatusOK, `{"id":12345}`, "12345", false, false},
		{"missing id", http.StatusOK, `{"status":"created"}`, "", true, false},
		{"null id", http.StatusOK, `{"id":null}`, "", true, false},
		{"garbage", http.StatusOK, `not json`, "", true, false},
		{"forbidden", http.StatusForbidden, `{"error":"token"}`, "", true, false},
		{"unavailable", http.StatusServiceUnavailable, ``, "", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			c := NewKeboolaClient(Options{Timeout: time.Second}, logging.Discard())
			target := model.Target{StackURL: srv.URL, ComponentID: "c", ConfigurationID: "1"}
			res, err := c.TriggerCompletion(context.Background(), "job_1", keboolaCred, target)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", res)
				}
				if IsRetryable(err) != tt.retryable {
					t.Errorf("IsRetryable = %v, want %v", IsRetryable(err), tt.retryable)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if res.RunID != tt.wantRunID {
				t.Errorf("RunID = %q, want %q", res.RunID, tt.wantRunID)
			}
		})
	}
}

func TestRateLimiterPacesCalls(t *testing.T) {
	var calls atomic.Int32
	c := newOpenAIWithLimit(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"status":"in_progress"}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	for i := 0; i < 5; i++ {
		c.QueryStatus(ctx, "batch_1", openaiCred)
	}
	// Burst of 1 at 2 rps: only the first call fits in the window.
	if n := calls.Load(); n > 2 {
		t.Errorf("calls = %d, limiter did not pace requests", n)
	}
}

func newOpenAIWithLimit(t *testing.T, h http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(Options{BaseURL: srv.URL, Timeout: time.Second, RateLimit: 2, Burst: 1}, logging.Discard())
}

func TestIsRetryable_Plain(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if IsRetryable(errors.New("boom")) {
		t.Error("plain error should not be retryable")
	}
	if !IsRetryable(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)) {
		t.Error("deadline should be retryable")
	}
}
