package mongodb

import (
	"context"
	"errors"
	"sync"
	"time"

	"docgateway/internal/datastore/config"
	"docgateway/internal/shared/eventbus"
	apperrors "docgateway/internal/shared/errors"
	"docgateway/internal/shared/logger"
	"docgateway/internal/shared/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/looplab/fsm"
)

// Manager states.
const (
	StateClosed     = "closed"
	StateConnecting = "connecting"
	StateReady      = "ready"
	StateFailed     = "failed"
)

const (
	eventConnect = "connect"
	eventReady   = "ready"
	eventFail    = "fail"
	eventClose   = "close"
)

const (
	DefaultRetryInterval = time.Second
	DefaultMaxAttempts   = 30
)

var stateGauge = map[string]int{
	StateClosed:     metrics.StateClosed,
	StateConnecting: metrics.StateConnecting,
	StateReady:      metrics.StateReady,
	StateFailed:     metrics.StateFailed,
}

// ManagerOption customises a ConnectionManager.
type ManagerOption func(*ConnectionManager)

// WithRetryInterval sets the fixed delay between dial attempts.
func WithRetryInterval(d time.Duration) ManagerOption {
	return func(m *ConnectionManager) {
		if d > 0 {
			m.retryInterval = d
		}
	}
}

// WithMaxAttempts sets how many dial attempts are made before giving up.
func WithMaxAttempts(n int) ManagerOption {
	return func(m *ConnectionManager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(log logger.Logger) ManagerOption {
	return func(m *ConnectionManager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithPublisher sets where connection events go.
func WithPublisher(p eventbus.Publisher) ManagerOption {
	return func(m *ConnectionManager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// ConnectionManager owns the connection to one physical database and serves
// store operations once ready.
type ConnectionManager struct {
	cfg           *config.ConnectionConfig
	dialer        Dialer
	retryInterval time.Duration
	maxAttempts   int
	log           logger.Logger
	publisher     eventbus.Publisher

	mu        sync.RWMutex
	machine   *fsm.FSM
	client    ClientInterface
	db        DatabaseInterface
	attempts  int
	readiness *Readiness
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

// NewConnectionManager creates a closed manager for cfg.
func NewConnectionManager(cfg *config.ConnectionConfig, dialer Dialer, opts ...ManagerOption) *ConnectionManager {
	m := &ConnectionManager{
		cfg:           cfg,
		dialer:        dialer,
		retryInterval: DefaultRetryInterval,
		maxAttempts:   DefaultMaxAttempts,
		log:           logger.WithComponent("connection_manager"),
		publisher:     eventbus.Noop{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithFields(map[string]interface{}{"database": cfg.Database()})

	database := cfg.Database()
	m.machine = fsm.NewFSM(
		StateClosed,
		fsm.Events{
			{Name: eventConnect, Src: []string{StateClosed}, Dst: StateConnecting},
			{Name: eventReady, Src: []string{StateConnecting}, Dst: StateReady},
			{Name: eventFail, Src: []string{StateConnecting}, Dst: StateFailed},
			{Name: eventClose, Src: []string{StateConnecting, StateReady, StateFailed}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				metrics.SetConnectionState(database, stateGauge[e.Dst])
			},
		},
	)
	return m
}

// Database returns the physical database name.
func (m *ConnectionManager) Database() string {
	return m.cfg.Database()
}

// State returns the current lifecycle state.
func (m *ConnectionManager) State() string {
	return m.machine.Current()
}

// IsReady reports whether store operations are accepted.
func (m *ConnectionManager) IsReady() bool {
	return m.State() == StateReady
}

// Attempts returns the dial attempts made in the current cycle.
func (m *ConnectionManager) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}

// Open starts a connection cycle if none is running and returns its readiness.
// Calling Open while connecting, ready or failed returns the existing future.
func (m *ConnectionManager) Open(ctx context.Context) *Readiness {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readiness != nil && m.machine.Current() != StateClosed {
		return m.readiness
	}

	if err := m.fire(eventConnect); err != nil {
		m.log.Errorf("cannot start connection cycle from %s: %v", m.machine.Current(), err)
		r := newReadiness()
		r.resolve(OutcomeFatal, apperrors.NewNotConnectedError(m.cfg.Database()).WithCause(err))
		return r
	}

	m.attempts = 0
	m.readiness = newReadiness()
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.loopDone = make(chan struct{})

	m.log.Infof("connecting to %s", m.cfg.Redacted())
	go m.connectLoop(loopCtx, m.readiness, m.loopDone)
	return m.readiness
}

func (m *ConnectionManager) connectLoop(ctx context.Context, readiness *Readiness, done chan struct{}) {
	defer close(done)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryInterval), uint64(m.maxAttempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(func() error {
		return m.attempt(ctx, readiness)
	}, policy, func(err error, wait time.Duration) {
		m.log.WithFields(map[string]interface{}{
			"attempt":      m.Attempts(),
			"max_attempts": m.maxAttempts,
			"retry_in":     wait.String(),
		}).Warnf("connection attempt failed: %v", err)
	})
	if err == nil || ctx.Err() != nil {
		return
	}

	var terminal error
	if errors.Is(err, ErrAuthentication) {
		terminal = apperrors.NewAuthenticationError("database authentication failed").
			WithCause(err).
			WithDetail("database", m.cfg.Database())
	} else {
		terminal = apperrors.NewConnectionExhaustedError(m.cfg.Database(), m.Attempts()).WithCause(err)
	}

	m.mu.Lock()
	// fail is only legal from connecting, so a cycle that was closed or
	// superseded cannot report a terminal error.
	transitionErr := m.fire(eventFail)
	m.mu.Unlock()
	if transitionErr != nil {
		return
	}

	if !readiness.resolve(OutcomeFatal, terminal) {
		return
	}
	m.log.Errorf("giving up: %v", terminal)
	if apperrors.IsConnectionExhausted(terminal) {
		ev := eventbus.NewChangeEvent(eventbus.EventTypeConnectionExhausted, "", "", "").
			WithPayload("attempts", m.Attempts())
		ev.Database = m.cfg.Database()
		m.publisher.PublishAndForget(ctx, ev)
	}
}

// attempt dials once. Authentication failures stop the retry loop.
func (m *ConnectionManager) attempt(ctx context.Context, readiness *Readiness) error {
	m.mu.Lock()
	m.attempts++
	m.mu.Unlock()

	client, err := m.dialer.Dial(ctx, m.cfg)
	metrics.ConnectionAttempt(m.cfg.Database(), err)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			return backoff.Permanent(err)
		}
		return err
	}

	if creds := m.cfg.Credentials(); creds != nil {
		if err := authenticate(ctx, client, creds); err != nil {
			_ = client.Disconnect(context.Background())
			if errors.Is(err, ErrAuthentication) {
				return backoff.Permanent(err)
			}
			return err
		}
	}

	m.mu.Lock()
	if err := m.fire(eventReady); err != nil {
		m.mu.Unlock()
		_ = client.Disconnect(context.Background())
		return backoff.Permanent(err)
	}
	m.client = client
	m.db = client.Database(m.cfg.Database())
	m.attempts = 0
	m.mu.Unlock()

	readiness.resolve(OutcomeReady, nil)
	m.log.Info("database ready")
	m.publisher.PublishAndForget(ctx, &eventbus.ChangeEvent{
		EventType: eventbus.EventTypeConnectionReady,
		Database:  m.cfg.Database(),
		At:        time.Now().UTC(),
		Origin:    "connection_manager",
	})
	return nil
}

// Close releases the client and marks the manager not ready. Closing while
// connecting stops the retry loop. Calling Close again is a no-op.
func (m *ConnectionManager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.machine.Current() == StateClosed {
		m.mu.Unlock()
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	client := m.client
	readiness := m.readiness
	done := m.loopDone
	m.client = nil
	m.db = nil
	m.cancel = nil
	_ = m.fire(eventClose)
	m.mu.Unlock()

	if readiness != nil {
		readiness.resolve(OutcomeFatal, apperrors.NewNotConnectedError(m.cfg.Database()))
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	if client != nil {
		if err := client.Disconnect(ctx); err != nil {
			return apperrors.NewStoreError("disconnect", err)
		}
	}
	m.log.Info("database closed")
	return nil
}

// database returns the live handle or a NotConnected error.
func (m *ConnectionManager) database() (DatabaseInterface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil || m.machine.Current() != StateReady {
		return nil, apperrors.NewNotConnectedError(m.cfg.Database())
	}
	return m.db, nil
}

// fire runs a state transition. Transitions never depend on a caller context.
func (m *ConnectionManager) fire(event string) error {
	return m.machine.Event(context.Background(), event)
}
