package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/me/batchpoll/internal/logging"
	"github.com/me/batchpoll/pkg/model"
)

// memRepo is a minimal in-memory Repository that counts reads.
type memRepo struct {
	mu      sync.Mutex
	secrets map[string]*model.Secret
	gets    int
}

func newMemRepo() *memRepo {
	return &memRepo{secrets: make(map[string]*model.Secret)}
}

func (r *memRepo) CreateSecret(_ context.Context, sec *model.Secret) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.secrets {
		if s.Name == sec.Name {
			return model.ErrSecretNameTaken
		}
	}
	cp := *sec
	cp.Sealed = append([]byte(nil), sec.Sealed...)
	r.secrets[sec.ID] = &cp
	return nil
}

func (r *memRepo) GetSecret(_ context.Context, id string) (*model.Secret, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	s, ok := r.secrets[id]
	if !ok {
		return nil, fmt.Errorf("secret %s: %w", id, model.ErrSecretNotFound)
	}
	cp := *s
	return &cp, nil
}

func (r *memRepo) ListSecrets(_ context.Context) ([]*model.Secret, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Secret
	for _, s := range r.secrets {
		cp := *s
		cp.Sealed = nil
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRepo) DeleteSecret(_ context.Context, id string, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.secrets[id]; !ok {
		return model.ErrSecretNotFound
	}
	delete(r.secrets, id)
	return nil
}

func testSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := NewSealer("unit-test-key")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSealer_RoundTrip(t *testing.T) {
	s := testSealer(t)
	plain := []byte(`{"api_key":"sk-123"}`)

	sealed, err := s.Seal("sec_1", plain)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(sealed, plain) {
		t.Fatal("sealed output contains plaintext")
	}
	got, err := s.Open("sec_1", sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("Open = %q, want %q", got, plain)
	}

	again, _ := s.Seal("sec_1", plain)
	if bytes.Equal(again, sealed) {
		t.Error("two seals of the same value should differ")
	}
}

func TestSealer_Rejects(t *testing.T) {
	s := testSealer(t)
	sealed, _ := s.Seal("sec_1", []byte("material"))

	if _, err := s.Open("sec_2", sealed); err == nil {
		t.Error("Open with a different id should fail")
	}

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	if _, err := s.Open("sec_1", tampered); err == nil {
		t.Error("Open of tampered blob should fail")
	}

	other, _ := NewSealer("another-key")
	if _, err := other.Open("sec_1", sealed); err == nil {
		t.Error("Open with a different key should fail")
	}

	if _, err := s.Open("sec_1", []byte{1, 2}); !errors.Is(err, ErrSealedTooShort) {
		t.Errorf("short blob err = %v, want ErrSealedTooShort", err)
	}

	if _, err := NewSealer(""); err == nil {
		t.Error("NewSealer with empty key should fail")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		kind    model.SecretKind
		data    string
		want    model.Credential
		wantErr bool
	}{
		{"openai", model.SecretKindOpenAI, `{"api_key":"sk-1","organization":"org-9"}`, model.OpenAICredential{APIKey: "sk-1", Organization: "org-9"}, false},
		{"keboola", model.SecretKindKeboola, `{"token":"kbc-1"}`, model.KeboolaCredential{Token: "kbc-1"}, false},
		{"openai shape under keboola kind", model.SecretKindKeboola, `{"api_key":"sk-1"}`, nil, true},
		{"bad json", model.SecretKindOpenAI, `{`, nil, true},
		{"unknown kind", model.SecretKind("gcp"), `{}`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.kind, []byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Decode = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestManager_CreateGet(t *testing.T) {
	repo := newMemRepo()
	m := NewManager(repo, testSealer(t), Options{}, logging.Discard())
	ctx := context.Background()

	sec, err := m.Create(ctx, " openai-prod ", model.OpenAICredential{APIKey: "sk-live"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sec.Name != "openai-prod" || sec.Kind != model.SecretKindOpenAI {
		t.Errorf("sec = %+v", sec)
	}
	if sec.Sealed != nil {
		t.Error("Create should not return sealed material")
	}
	if bytes.Contains(repo.secrets[sec.ID].Sealed, []byte("sk-live")) {
		t.Error("stored material is not sealed")
	}

	rs, err := m.Get(ctx, sec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	cred, ok := rs.Credential.(model.OpenAICredential)
	if !ok {
		t.Fatalf("credential type = %T, want OpenAICredential", rs.Credential)
	}
	if cred.APIKey != "sk-live" {
		t.Errorf("APIKey = %q, want %q", cred.APIKey, "sk-live")
	}

	if _, err := m.Get(ctx, "sec_missing"); !errors.Is(err, model.ErrSecretNotFound) {
		t.Errorf("Get missing err = %v, want ErrSecretNotFound", err)
	}
	if _, err := m.Create(ctx, "", model.KeboolaCredential{Token: "t"}); err == nil {
		t.Error("Create with empty name should fail")
	}
}

func TestManager_Cache(t *testing.T) {
	repo := newMemRepo()
	m := NewManager(repo, testSealer(t), Options{CacheTTL: time.Minute, CacheMax: 8}, logging.Discard())
	ctx := context.Background()

	sec, err := m.Create(ctx, "kbc", model.KeboolaCredential{Token: "kbc-tok"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.Get(ctx, sec.ID); err != nil {
			t.Fatal(err)
		}
	}
	if repo.gets != 1 {
		t.Errorf("repository reads = %d, want 1 with cache", repo.gets)
	}

	if err := m.Delete(ctx, sec.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, sec.ID); !errors.Is(err, model.ErrSecretNotFound) {
		t.Errorf("Get after delete err = %v, want ErrSecretNotFound", err)
	}
}

func TestManager_GetUnreadable(t *testing.T) {
	repo := newMemRepo()
	ctx := context.Background()
	writer := NewManager(repo, testSealer(t), Options{}, logging.Discard())

	sec, err := writer.Create(ctx, "oa", model.OpenAICredential{APIKey: "sk-test"})
	if err != nil {
		t.Fatal(err)
	}

	other, err := NewSealer("another-key")
	if err != nil {
		t.Fatal(err)
	}
	reader := NewManager(repo, other, Options{}, logging.Discard())
	if _, err := reader.Get(ctx, sec.ID); !errors.Is(err, model.ErrSecretUnreadable) {
		t.Errorf("Get with wrong key err = %v, want ErrSecretUnreadable", err)
	}

	// A blob that opens but does not decode as the stored kind.
	repo.mu.Lock()
	stored := repo.secrets[sec.ID]
	sealed, err := testSealer(t).Seal(sec.ID, []byte("not json"))
	if err != nil {
		repo.mu.Unlock()
		t.Fatal(err)
	}
	stored.Sealed = sealed
	repo.mu.Unlock()

	if _, err := writer.Get(ctx, sec.ID); !errors.Is(err, model.ErrSecretUnreadable) {
		t.Errorf("Get of undecodable blob err = %v, want ErrSecretUnreadable", err)
	}
}
