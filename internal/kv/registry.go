// Package kv owns the long-lived key-value store connections, one per role.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type Role string

const (
	RoleCache       Role = "cache"
	RolePubSub      Role = "pubsub"
	RoleQueueClient Role = "queue-client"
	RoleQueueEvents Role = "queue-events"
	RoleQueueWorker Role = "queue-worker"
	RoleDeadLetter  Role = "dead-letter"
)

var AllRoles = []Role{RoleCache, RolePubSub, RoleQueueClient, RoleQueueEvents, RoleQueueWorker, RoleDeadLetter}

// Options selects which role groups get a connection.
type Options struct {
	URL   string
	Cache bool
	Queue bool
}

// Registry is built once per process and handed to every consumer.
type Registry struct {
	mu      sync.RWMutex
	clients map[Role]*redis.Client
	closed  bool
}

// NewRegistry dials nothing; connections are lazy in go-redis. An empty URL or
// no enabled group yields a valid, disabled registry.
func NewRegistry(opts Options) (*Registry, error) {
	r := &Registry{clients: make(map[Role]*redis.Client)}
	if opts.URL == "" || (!opts.Cache && !opts.Queue) {
		log.Info("Key-value store disabled")
		return r, nil
	}

	base, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	var roles []Role
	if opts.Cache {
		roles = append(roles, RoleCache, RolePubSub)
	}
	if opts.Queue {
		roles = append(roles, RoleQueueClient, RoleQueueEvents, RoleQueueWorker, RoleDeadLetter)
	}
	for _, role := range roles {
		o := *base
		o.ClientName = "automation-" + string(role)
		r.clients[role] = redis.NewClient(&o)
	}
	log.WithField("roles", len(roles)).Info("Key-value store clients created")
	return r, nil
}

// NewRegistryFromClient shares one client across every role. Used by tests and
// single-connection deployments.
func NewRegistryFromClient(c *redis.Client, roles ...Role) *Registry {
	if len(roles) == 0 {
		roles = AllRoles
	}
	r := &Registry{clients: make(map[Role]*redis.Client)}
	for _, role := range roles {
		r.clients[role] = c
	}
	return r
}

// Client returns the connection for role, or nil when that role is disabled.
func (r *Registry) Client(role Role) *redis.Client {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil
	}
	return r.clients[role]
}

func (r *Registry) Enabled(role Role) bool {
	return r.Client(role) != nil
}

func (r *Registry) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for role, c := range r.clients {
		if err := c.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", role, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	seen := make(map[*redis.Client]bool)
	var errs []error
	for _, c := range r.clients {
		if seen[c] {
			continue
		}
		seen[c] = true
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
