// Package session is the client side of the gateway: one Manager owns the
// authenticated session and one Gateway funnels every call through it.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Server endpoints used by the session lifecycle.
const (
	LoginEndpoint      = "/admin/auth"
	ValidationEndpoint = "/admin/session"
)

// State of a Manager.
type State int

const (
	StateUninitialized State = iota
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "uninitialized"
	}
}

// Snapshot is what subscribers observe after each transition.
type Snapshot struct {
	State State
	User  User
}

// Navigator sends the user back to the login screen.
type Navigator interface {
	RedirectToLogin()
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) RedirectToLogin() { f() }

// Caller is the subset of Gateway the Manager needs.
type Caller interface {
	Call(ctx context.Context, endpoint string, opts CallOptions) (json.RawMessage, error)
}

// Manager owns the session. Every transition and its persistence happen
// under mu; the generation changes on each transition so responses to an
// older session cannot tear down a newer one.
type Manager struct {
	mu    sync.Mutex
	state State
	token string
	user  User
	gen   uint64

	storage Storage
	nav     Navigator
	logger  *zap.Logger

	subs   map[int]chan Snapshot
	nextID int
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithNavigator sets the redirect target. Without one, redirects are no-ops.
func WithNavigator(nav Navigator) ManagerOption {
	return func(m *Manager) { m.nav = nav }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates an uninitialized manager over storage.
func NewManager(storage Storage, opts ...ManagerOption) *Manager {
	m := &Manager{
		storage: storage,
		nav:     NavigatorFunc(func() {}),
		logger:  zap.NewNop(),
		subs:    make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns the current state and user.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, User: m.user}
}

// State returns the current state.
func (m *Manager) State() State {
	return m.Snapshot().State
}

// credentials returns the token to attach and the generation it belongs to.
func (m *Manager) credentials() (string, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.gen
}

// Subscribe returns a channel that always holds the latest snapshot. The
// current snapshot is delivered immediately. cancel closes the channel.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	ch <- Snapshot{State: m.state, User: m.user}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			close(ch)
			m.mu.Unlock()
		})
	}
	return ch, cancel
}

// publishLocked replaces any unread snapshot with the current one.
func (m *Manager) publishLocked() {
	snap := Snapshot{State: m.state, User: m.user}
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

// setLocked performs a transition and notifies subscribers.
func (m *Manager) setLocked(state State, token string, user User) {
	m.state = state
	m.token = token
	m.user = user
	m.gen++
	m.publishLocked()
}

// Bootstrap restores a persisted session. A stored token is validated with
// one call; any failure clears it. Bootstrap never redirects.
func (m *Manager) Bootstrap(ctx context.Context, gw Caller) error {
	m.mu.Lock()
	if m.state != StateUninitialized {
		m.mu.Unlock()
		return nil
	}

	persisted, ok, err := m.storage.Load(ctx)
	if err != nil || !ok {
		if err != nil {
			m.logger.Warn("stored session unreadable, clearing", zap.Error(err))
			if clearErr := m.storage.Clear(context.WithoutCancel(ctx)); clearErr != nil {
				m.logger.Warn("failed to clear stored session", zap.Error(clearErr))
			}
		}
		m.setLocked(StateUnauthenticated, "", User{})
		m.mu.Unlock()
		return nil
	}

	// the token is attached to the validation call but the state stays
	// uninitialized, so a 401 there does not redirect
	m.token = persisted.Token
	gen := m.gen
	m.mu.Unlock()

	_, callErr := gw.Call(ctx, ValidationEndpoint, CallOptions{Method: http.MethodGet})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateUninitialized || m.gen != gen {
		return nil
	}

	if callErr != nil {
		m.logger.Info("stored session rejected", zap.Error(callErr))
		if err := m.storage.Clear(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("failed to clear stored session", zap.Error(err))
		}
		m.setLocked(StateUnauthenticated, "", User{})
		return nil
	}

	m.setLocked(StateAuthenticated, persisted.Token, persisted.User)
	return nil
}

// Login authenticates against the server and persists the new session.
// On failure the state is unchanged.
func (m *Manager) Login(ctx context.Context, gw Caller, username, password string) (User, error) {
	m.mu.Lock()
	switch m.state {
	case StateUninitialized:
		m.mu.Unlock()
		return User{}, ErrNotBootstrapped
	case StateAuthenticated:
		m.mu.Unlock()
		return User{}, ErrAlreadyAuthenticated
	}
	gen := m.gen
	m.mu.Unlock()

	username = strings.TrimSpace(username)
	raw, err := gw.Call(ctx, LoginEndpoint, CallOptions{
		Method: http.MethodPost,
		Body:   map[string]string{"username": username, "password": password},
	})
	if err != nil {
		return User{}, err
	}

	var resp struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return User{}, &Error{Kind: KindMalformedResponse, Endpoint: LoginEndpoint, Err: err}
	}
	if !resp.Success || resp.Token == "" {
		return User{}, ErrLoginRejected
	}

	user := LookupUser(username)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateUnauthenticated || m.gen != gen {
		return User{}, ErrSessionChanged
	}
	if err := m.storage.Save(context.WithoutCancel(ctx), Persisted{Token: resp.Token, User: user}); err != nil {
		return User{}, fmt.Errorf("persist session: %w", err)
	}
	m.setLocked(StateAuthenticated, resp.Token, user)
	m.logger.Info("session opened", zap.String("username", username))
	return user, nil
}

// Logout ends an authenticated session and redirects. It is a no-op when
// not authenticated.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return nil
	}
	err := m.storage.Clear(context.WithoutCancel(ctx))
	m.setLocked(StateUnauthenticated, "", User{})
	m.mu.Unlock()

	m.nav.RedirectToLogin()
	if err != nil {
		return fmt.Errorf("clear stored session: %w", err)
	}
	return nil
}

// invalidate tears down the session that issued a rejected call. Only the
// first caller for a given generation does anything.
func (m *Manager) invalidate(ctx context.Context, gen uint64) bool {
	m.mu.Lock()
	if m.state != StateAuthenticated || m.gen != gen {
		m.mu.Unlock()
		return false
	}
	err := m.storage.Clear(context.WithoutCancel(ctx))
	m.setLocked(StateUnauthenticated, "", User{})
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("failed to clear stored session", zap.Error(err))
	}
	m.logger.Info("session invalidated by server")
	m.nav.RedirectToLogin()
	return true
}
