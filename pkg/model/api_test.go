package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestListOptions_Clamp(t *testing.T) {
	tests := []struct {
		name       string
		input      ListOptions
		wantLimit  int
		wantOffset int
	}{
		{"zero", ListOptions{}, 20, 0},
		{"negative limit", ListOptions{Limit: -1}, 20, 0},
		{"over max", ListOptions{Limit: 500}, 100, 0},
		{"negative offset", ListOptions{Limit: 5, Offset: -9}, 5, 0},
		{"keeps status", ListOptions{Limit: 30, Offset: 3, Status: JobStatusPaused}, 30, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := tt.input.Status
			tt.input.Clamp()
			if tt.input.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", tt.input.Limit, tt.wantLimit)
			}
			if tt.input.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", tt.input.Offset, tt.wantOffset)
			}
			if tt.input.Status != status {
				t.Errorf("Status = %q, want %q", tt.input.Status, status)
			}
		})
	}
}

func TestJobJSON_OmitsAbsentFields(t *testing.T) {
	job := Job{
		ID:          "job_1",
		Name:        "nightly",
		BatchHandle: "batch_abc",
		Status:      JobStatusPaused,
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	b, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, key := range []string{"next_check_at", "last_error", "completed_at"} {
		if strings.Contains(s, key) {
			t.Errorf("json %s should omit %q", s, key)
		}
	}
}

func TestSecretJSON_HidesMaterial(t *testing.T) {
	sec := Secret{ID: "sec_1", Name: "openai-prod", Kind: SecretKindOpenAI, Sealed: []byte("ciphertext")}
	b, err := json.Marshal(sec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "ciphertext") || strings.Contains(string(b), "Sealed") {
		t.Errorf("secret json leaks material: %s", b)
	}
}
