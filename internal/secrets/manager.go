// Package secrets stores typed provider credentials sealed at rest and serves
// them decrypted, through a short-lived cache, to the scheduler.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/me/batchpoll/pkg/model"
)

// Repository is the slice of the job repository that persists secrets.
type Repository interface {
	CreateSecret(ctx context.Context, sec *model.Secret) error
	GetSecret(ctx context.Context, id string) (*model.Secret, error)
	ListSecrets(ctx context.Context) ([]*model.Secret, error)
	DeleteSecret(ctx context.Context, id string, force bool) error
}

// Options configures the decrypted-secret cache. A zero TTL disables caching.
type Options struct {
	CacheTTL time.Duration
	CacheMax int
}

// Manager is the secret store used by the admin surface and the scheduler.
type Manager struct {
	repo   Repository
	sealer *Sealer
	cache  *expirable.LRU[string, *model.ResolvedSecret]
	logger *slog.Logger
	now    func() time.Time
}

// NewManager wires a repository and sealer together.
func NewManager(repo Repository, sealer *Sealer, opts Options, logger *slog.Logger) *Manager {
	m := &Manager{
		repo:   repo,
		sealer: sealer,
		logger: logger.With("component", "secrets"),
		now:    time.Now,
	}
	if opts.CacheTTL > 0 {
		size := opts.CacheMax
		if size <= 0 {
			size = 256
		}
		m.cache = expirable.NewLRU[string, *model.ResolvedSecret](size, nil, opts.CacheTTL)
	}
	return m
}

// Create seals and stores a new credential under name.
func (m *Manager) Create(ctx context.Context, name string, cred model.Credential) (*model.Secret, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("secret name is required")
	}
	plain, err := Encode(cred)
	if err != nil {
		return nil, err
	}

	sec := &model.Secret{
		ID:        "sec_" + uuid.New().String(),
		Name:      name,
		Kind:      cred.Kind(),
		CreatedAt: m.now().UTC(),
	}
	sec.Sealed, err = m.sealer.Seal(sec.ID, plain)
	if err != nil {
		return nil, err
	}
	if err := m.repo.CreateSecret(ctx, sec); err != nil {
		return nil, err
	}

	m.logger.Info("secret created", "secret_id", sec.ID, "kind", sec.Kind)
	sec.Sealed = nil
	return sec, nil
}

// Get returns the secret with its decrypted credential. A missing secret
// wraps model.ErrSecretNotFound; a blob that fails to open or decode wraps
// model.ErrSecretUnreadable.
func (m *Manager) Get(ctx context.Context, id string) (*model.ResolvedSecret, error) {
	if m.cache != nil {
		if rs, ok := m.cache.Get(id); ok {
			return rs, nil
		}
	}

	sec, err := m.repo.GetSecret(ctx, id)
	if err != nil {
		return nil, err
	}
	plain, err := m.sealer.Open(sec.ID, sec.Sealed)
	if err != nil {
		return nil, fmt.Errorf("secret %s: %w: %w", id, model.ErrSecretUnreadable, err)
	}
	cred, err := Decode(sec.Kind, plain)
	if err != nil {
		return nil, fmt.Errorf("secret %s: %w: %w", id, model.ErrSecretUnreadable, err)
	}

	sec.Sealed = nil
	rs := &model.ResolvedSecret{Secret: *sec, Credential: cred}
	if m.cache != nil {
		m.cache.Add(id, rs)
	}
	m.logger.Debug("secret loaded", "secret_id", id, "kind", sec.Kind)
	return rs, nil
}

// List returns secret metadata only.
func (m *Manager) List(ctx context.Context) ([]*model.Secret, error) {
	return m.repo.ListSecrets(ctx)
}

// Delete removes a secret; see Repository.DeleteSecret for the force rule.
func (m *Manager) Delete(ctx context.Context, id string, force bool) error {
	if err := m.repo.DeleteSecret(ctx, id, force); err != nil {
		return err
	}
	if m.cache != nil {
		m.cache.Remove(id)
	}
	m.logger.Info("secret deleted", "secret_id", id, "force", force)
	return nil
}
