package model

import (
	"fmt"
	"strings"
	"testing"
)

func TestNewCredential(t *testing.T) {
	tests := []struct {
		name     string
		kind     SecretKind
		apiKey   string
		token    string
		wantKind SecretKind
		wantErr  bool
	}{
		{"openai", SecretKindOpenAI, "sk-abc", "", SecretKindOpenAI, false},
		{"openai missing key", SecretKindOpenAI, "", "tok", "", true},
		{"keboola", SecretKindKeboola, "", "tok", SecretKindKeboola, false},
		{"keboola missing token", SecretKindKeboola, "sk-abc", "", "", true},
		{"unknown kind", SecretKind("aws"), "a", "b", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, err := NewCredential(tt.kind, tt.apiKey, "", tt.token)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", cred)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cred.Kind() != tt.wantKind {
				t.Errorf("Kind() = %q, want %q", cred.Kind(), tt.wantKind)
			}
		})
	}
}

func TestCredential_StringRedacts(t *testing.T) {
	creds := []Credential{
		OpenAICredential{APIKey: "sk-secret-value-1234"},
		KeboolaCredential{Token: "kbc-secret-value-5678"},
	}
	for _, c := range creds {
		s := fmt.Sprintf("%v", c)
		if strings.Contains(s, "secret-value") {
			t.Errorf("%T formatted as %q, leaks material", c, s)
		}
	}
}

func TestSecretKind_Valid(t *testing.T) {
	if !SecretKindOpenAI.Valid() || !SecretKindKeboola.Valid() {
		t.Error("known kinds should be valid")
	}
	if SecretKind("").Valid() {
		t.Error("empty kind should be invalid")
	}
}

func TestTarget_IsComplete(t *testing.T) {
	full := Target{StackURL: "https://connection.keboola.com", ComponentID: "keboola.ex-http", ConfigurationID: "123"}
	if !full.IsComplete() {
		t.Error("full target should be complete")
	}
	partial := full
	partial.ConfigurationID = "  "
	if partial.IsComplete() {
		t.Error("blank configuration id should be incomplete")
	}
}
