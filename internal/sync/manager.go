package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/bavit-uk/mailcore/internal/provider"
	"github.com/bavit-uk/mailcore/internal/syncstate"
	"github.com/bavit-uk/mailcore/internal/threadcache"
	"github.com/bavit-uk/mailcore/internal/threadid"
	"github.com/bavit-uk/mailcore/internal/unified"
)

// ClientFactory builds a provider client for one account. userJWT is
// forwarded to the token service for the polling providers; the inbound
// factory ignores it.
type ClientFactory func(ctx context.Context, accountID string, prov unified.Provider, userJWT string) (provider.Client, error)

// StartRequest asks for one sync pass.
type StartRequest struct {
	AccountID string
	Category  unified.Category
	Provider  unified.Provider
	Mode      Mode
	UserJWT   string
}

// RunStatus describes one in-flight pass.
type RunStatus struct {
	Key       string           `json:"key"`
	Provider  unified.Provider `json:"provider"`
	Mode      Mode             `json:"mode"`
	State     State            `json:"state"`
	StartedAt time.Time        `json:"startedAt"`
}

type run struct {
	cancel    context.CancelFunc
	orch      *Orchestrator
	provider  unified.Provider
	mode      Mode
	startedAt time.Time
}

// Manager runs at most one pass per (account, category) at a time.
// Starting a key that is already running is an error, not a queue.
type Manager struct {
	store    Storage
	cursors  *syncstate.Store
	resolver *threadid.Resolver
	cache    *threadcache.Cache
	factory  ClientFactory
	log      *zap.Logger

	// PageSize and MaxPages override the orchestrator defaults for
	// every pass this manager starts; zero keeps the default.
	PageSize int
	MaxPages int

	mu   gosync.RWMutex
	runs map[string]*run
}

// NewManager creates a sync manager.
func NewManager(store Storage, cursors *syncstate.Store, resolver *threadid.Resolver, cache *threadcache.Cache, factory ClientFactory, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:    store,
		cursors:  cursors,
		resolver: resolver,
		cache:    cache,
		factory:  factory,
		log:      log,
		runs:     make(map[string]*run),
	}
}

// StartSync launches a pass in the background. The pass outlives the
// caller's context; StopSync or StopAll cancels it.
func (m *Manager) StartSync(ctx context.Context, req StartRequest) error {
	key := syncstate.Key{AccountID: req.AccountID, Category: req.Category}
	mapKey := key.String()

	client, err := m.factory(ctx, req.AccountID, req.Provider, req.UserJWT)
	if err != nil {
		return fmt.Errorf("create provider client: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[mapKey]; exists {
		return fmt.Errorf("sync already running for %s", mapKey)
	}

	orch := NewOrchestrator(client, m.store, m.cursors, m.resolver, m.cache, m.log)
	if m.PageSize > 0 {
		orch.PageSize = m.PageSize
	}
	if m.MaxPages > 0 {
		orch.MaxPages = m.MaxPages
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.runs[mapKey] = &run{
		cancel:    cancel,
		orch:      orch,
		provider:  req.Provider,
		mode:      req.Mode,
		startedAt: time.Now(),
	}

	go func() {
		defer cancel()
		if _, err := orch.Run(runCtx, req.Mode, key); err != nil {
			m.log.Error("sync pass failed",
				zap.String("key", mapKey), zap.Error(err))
		}

		m.mu.Lock()
		delete(m.runs, mapKey)
		m.mu.Unlock()
	}()

	return nil
}

// StopSync cancels a running pass. The cursor keeps whatever pages
// already committed.
func (m *Manager) StopSync(accountID string, category unified.Category) error {
	mapKey := syncstate.Key{AccountID: accountID, Category: category}.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	r, exists := m.runs[mapKey]
	if !exists {
		return fmt.Errorf("no sync running for %s", mapKey)
	}

	r.cancel()
	delete(m.runs, mapKey)
	return nil
}

// IsRunning reports whether a pass is in flight for the key.
func (m *Manager) IsRunning(accountID string, category unified.Category) bool {
	mapKey := syncstate.Key{AccountID: accountID, Category: category}.String()

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.runs[mapKey]
	return exists
}

// RunningSyncs lists in-flight passes.
func (m *Manager) RunningSyncs() []RunStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RunStatus, 0, len(m.runs))
	for key, r := range m.runs {
		out = append(out, RunStatus{
			Key:       key,
			Provider:  r.provider,
			Mode:      r.mode,
			State:     r.orch.State(),
			StartedAt: r.startedAt,
		})
	}
	return out
}

// StopAll cancels every in-flight pass.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, r := range m.runs {
		m.log.Info("stopping sync", zap.String("key", key))
		r.cancel()
	}
	m.runs = make(map[string]*run)
}
