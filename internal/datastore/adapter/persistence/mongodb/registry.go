package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"docgateway/internal/datastore/config"
	"docgateway/internal/datastore/domain/repository"
	"docgateway/internal/shared/logger"
)

// ConnectionRegistry keeps one ConnectionManager per physical database.
// Managers are created on first use and shared by every caller.
type ConnectionRegistry struct {
	base     *config.ConnectionConfig
	dialer   Dialer
	opts     []ManagerOption
	managers map[string]*ConnectionManager
	mu       sync.RWMutex
	logger   logger.Logger
}

var _ repository.StoreProvider = (*ConnectionRegistry)(nil)

// NewConnectionRegistry creates a registry. Databases other than base's reuse
// its hosts, credentials and options.
func NewConnectionRegistry(base *config.ConnectionConfig, dialer Dialer, log logger.Logger, opts ...ManagerOption) *ConnectionRegistry {
	if log == nil {
		log = logger.WithComponent("connection_registry")
	}
	return &ConnectionRegistry{
		base:     base,
		dialer:   dialer,
		opts:     opts,
		managers: make(map[string]*ConnectionManager),
		logger:   log,
	}
}

// SharedDatabase is the database holding prefixed tenant collections.
func (r *ConnectionRegistry) SharedDatabase() string {
	return r.base.Database()
}

// Manager returns the manager for database, creating it if needed.
func (r *ConnectionRegistry) Manager(database string) *ConnectionManager {
	r.mu.RLock()
	if m, exists := r.managers[database]; exists {
		r.mu.RUnlock()
		return m
	}
	r.mu.RUnlock()

	// Double-check locking pattern
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, exists := r.managers[database]; exists {
		return m
	}

	cfg := r.base
	if database != r.base.Database() {
		cfg = r.base.WithDatabase(database)
	}
	m := NewConnectionManager(cfg, r.dialer, r.opts...)
	r.managers[database] = m

	r.logger.WithFields(map[string]interface{}{
		"database": database,
		"managers": len(r.managers),
	}).Info("created connection manager")
	return m
}

// Acquire opens (or joins) the connection cycle for database and waits for it.
// A manager whose cycle ended fatally is evicted so the next call starts fresh.
func (r *ConnectionRegistry) Acquire(ctx context.Context, database string) (repository.DocumentStore, error) {
	if database == "" {
		return nil, errors.New("database name cannot be empty")
	}

	m := r.Manager(database)
	readiness := m.Open(ctx)
	if err := readiness.Wait(ctx); err != nil {
		if outcome, _ := readiness.Outcome(); outcome == OutcomeFatal {
			r.evict(ctx, database, m)
			return nil, err
		}
		return nil, fmt.Errorf("waiting for database %s: %w", database, err)
	}
	return m, nil
}

func (r *ConnectionRegistry) evict(ctx context.Context, database string, m *ConnectionManager) {
	r.mu.Lock()
	if current, ok := r.managers[database]; ok && current == m {
		delete(r.managers, database)
	}
	r.mu.Unlock()
	_ = m.Close(ctx)
}

// Release closes and forgets the manager for database.
func (r *ConnectionRegistry) Release(ctx context.Context, database string) error {
	r.mu.Lock()
	m, ok := r.managers[database]
	delete(r.managers, database)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	r.logger.WithFields(map[string]interface{}{"database": database}).Info("released connection manager")
	return m.Close(ctx)
}

// CloseAll closes every manager.
func (r *ConnectionRegistry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*ConnectionManager)
	r.mu.Unlock()

	var errs []error
	for _, m := range managers {
		if err := m.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Databases lists databases with a live manager, sorted.
func (r *ConnectionRegistry) Databases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.managers))
	for name := range r.managers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ping reports whether the shared database is ready, for health checks.
func (r *ConnectionRegistry) Ping(ctx context.Context) error {
	_, err := r.Acquire(ctx, r.base.Database())
	return err
}
