package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"instagram-automation/internal/cache"
	"instagram-automation/internal/models"
	"instagram-automation/internal/store"
)

var ErrTenantNotFound = errors.New("tenant not found")

// Tenant is the account an entry belongs to, with every provider id that
// identifies it.
type Tenant struct {
	AccountID   string   `json:"account_id"`
	WorkspaceID string   `json:"workspace_id"`
	Username    string   `json:"username"`
	Aliases     []string `json:"aliases"`
}

// IsSelf reports whether id is one of the tenant's own provider ids.
func (t *Tenant) IsSelf(id string) bool {
	if id == "" {
		return false
	}
	for _, a := range t.Aliases {
		if a == id {
			return true
		}
	}
	return false
}

type Resolver struct {
	store *store.Store
	cache *cache.Cache
	ttl   time.Duration
}

func NewResolver(s *store.Store, c *cache.Cache, ttl time.Duration) *Resolver {
	return &Resolver{store: s, cache: c, ttl: ttl}
}

// Resolve maps the provider id of a webhook entry to a tenant. It tries a
// direct account match first and then the workspace alias columns.
func (r *Resolver) Resolve(ctx context.Context, providerID string) (*Tenant, error) {
	key := cache.AccountKey(providerID)
	var cached Tenant
	if found, _ := r.cache.GetJSON(ctx, key, &cached); found {
		return &cached, nil
	}

	t, err := r.lookup(ctx, providerID)
	if err != nil {
		return nil, err
	}
	r.cache.SetJSON(ctx, key, t, r.ttl)
	return t, nil
}

func (r *Resolver) lookup(ctx context.Context, providerID string) (*Tenant, error) {
	acct, err := r.store.AccountByProviderID(ctx, providerID)
	if err == nil {
		ws, err := r.store.Workspace(ctx, acct.WorkspaceID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return newTenant(acct, ws, providerID), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	ws, err := r.store.WorkspaceByAlias(ctx, providerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, providerID)
	}
	if err != nil {
		return nil, err
	}
	acct, err = r.store.AccountForWorkspace(ctx, ws.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: workspace %s has no account", ErrTenantNotFound, ws.ID)
	}
	if err != nil {
		return nil, err
	}
	return newTenant(acct, ws, providerID), nil
}

func newTenant(acct *models.Account, ws *models.Workspace, providerID string) *Tenant {
	t := &Tenant{AccountID: acct.ID, WorkspaceID: acct.WorkspaceID, Username: acct.Username}
	seen := map[string]bool{}
	add := func(ids ...string) {
		for _, id := range ids {
			if id != "" && !seen[id] {
				seen[id] = true
				t.Aliases = append(t.Aliases, id)
			}
		}
	}
	add(providerID)
	add(acct.Aliases()...)
	if ws != nil {
		add(ws.InstagramAccountID, ws.ProfessionalAccountID, ws.BusinessAccountID)
	}
	return t
}
