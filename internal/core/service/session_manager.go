package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
	"github.com/pcportal/portal-auth/internal/pkg/metrics"
)

const defaultInitTimeout = 5 * time.Second

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithInitTimeout bounds how long Initialize keeps the manager loading.
func WithInitTimeout(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.initTimeout = d
		}
	}
}

// SessionManager tracks who is signed in for one client process. It mirrors
// the provider session and the matching profile, and reacts to transitions
// pushed by the provider for as long as it is open.
type SessionManager struct {
	provider    ports.IdentityProvider
	profiles    *ProfileStore
	log         zerolog.Logger
	validate    *validator.Validate
	initTimeout time.Duration

	// ctx outlives Initialize so a late initial result can still be applied.
	ctx    context.Context
	cancel context.CancelFunc

	started   atomic.Bool
	closeOnce sync.Once
	readyOnce sync.Once
	ready     chan struct{}
	wg        sync.WaitGroup
	sub       ports.Subscription
	// transitions counts pushed events and local sign-in/out calls.
	transitions atomic.Uint64

	mu          sync.RWMutex
	gen         uint64
	version     uint64
	session     *domain.Session
	user        *domain.User
	profile     *domain.Profile
	// retired holds sessions signed out here; late events for them are dropped.
	retired     map[string]struct{}
	loading     bool
	initialized bool
}

// NewSessionManager returns a manager in the loading state. Call Initialize
// once the process is ready and Close on every exit path.
func NewSessionManager(provider ports.IdentityProvider, profiles *ProfileStore, log zerolog.Logger, opts ...SessionOption) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &SessionManager{
		provider:    provider,
		profiles:    profiles,
		log:         log,
		validate:    validator.New(),
		initTimeout: defaultInitTimeout,
		ctx:         ctx,
		cancel:      cancel,
		ready:       make(chan struct{}),
		retired:     make(map[string]struct{}),
		loading:     true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize performs the provider handshake. Only the first call does
// anything; later calls return nil immediately.
//
// It blocks until the initial session and profile are resolved or the
// init timeout elapses, whichever comes first. Provider failures are logged
// and treated as "nobody signed in".
func (m *SessionManager) Initialize(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	// Subscribe first so no transition between the query and the
	// subscription is lost.
	sub, err := m.provider.OnAuthStateChange(m.ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("auth state subscription failed, continuing without live updates")
	} else {
		m.mu.Lock()
		m.sub = sub
		m.mu.Unlock()
		m.wg.Add(1)
		go m.consume(sub)
	}

	m.wg.Add(1)
	go m.loadInitial()

	// The watchdog outlives ctx: loading is released even when the caller
	// stops waiting.
	watchdog := time.AfterFunc(m.initTimeout, m.releaseLoading)

	select {
	case <-m.ready:
		watchdog.Stop()
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// releaseLoading ends the loading state when the initial query has not
// resolved in time.
func (m *SessionManager) releaseLoading() {
	select {
	case <-m.ready:
		return
	default:
	}
	metrics.SessionInitTimeoutsTotal.Inc()
	m.log.Warn().Dur("timeout", m.initTimeout).Msg("session initialisation timed out, releasing loading state")
	m.finishLoading()
}

func (m *SessionManager) loadInitial() {
	defer m.wg.Done()
	defer m.finishLoading()

	seen := m.transitions.Load()
	sess, err := m.provider.GetCurrentSession(m.ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("initial session query failed, treating as signed out")
		sess = nil
	}
	// A transition applied meanwhile is newer than this answer.
	if m.transitions.Load() != seen {
		m.log.Debug().Msg("initial session superseded by a newer transition")
		return
	}
	m.applySession(m.ctx, "initial", sess)
}

func (m *SessionManager) consume(sub ports.Subscription) {
	defer m.wg.Done()
	events := sub.Events()
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.transitions.Add(1)
			if ev.Kind == ports.EventSignedOut {
				ev.Session = nil
			}
			m.applySession(m.ctx, string(ev.Kind), ev.Session)
		}
	}
}

// applySession is the single state transition for both the initial query and
// pushed events. The user mirror changes immediately; the profile is
// committed only when no newer applySession started while it was fetched.
func (m *SessionManager) applySession(ctx context.Context, kind string, sess *domain.Session) {
	var user *domain.User
	if sess != nil {
		u := sess.User
		user = &u
		sess = cloneSession(sess)
	}

	m.mu.Lock()
	if sess != nil {
		if _, gone := m.retired[sess.ID]; gone {
			m.mu.Unlock()
			m.log.Debug().Str("kind", kind).Str("session_id", sess.ID).Msg("ignoring transition for a signed-out session")
			return
		}
	}
	m.gen++
	gen := m.gen
	m.session = sess
	m.user = user
	if user == nil || (m.profile != nil && m.profile.UserID != user.ID) {
		m.profile = nil
	}
	m.version++
	pgen := m.profiles.begin(user)
	m.mu.Unlock()

	metrics.SessionEventsTotal.WithLabelValues(kind).Inc()

	profile, current := m.profiles.resolve(ctx, pgen, user)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !current || gen != m.gen {
		return
	}
	m.profile = profile
	m.version++

	ev := m.log.Debug().Str("kind", kind)
	if user != nil {
		ev = ev.Str("user_id", user.ID).Bool("has_profile", profile != nil)
	}
	ev.Msg("auth state applied")
}

func (m *SessionManager) finishLoading() {
	m.readyOnce.Do(func() {
		m.mu.Lock()
		m.loading = false
		m.initialized = true
		m.version++
		m.mu.Unlock()
		close(m.ready)
	})
}

// SignIn authenticates with the provider and adopts the new session.
func (m *SessionManager) SignIn(ctx context.Context, email, secret string) (*domain.Session, error) {
	sess, err := m.provider.SignInWithCredentials(ctx, email, secret)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	m.transitions.Add(1)
	m.applySession(ctx, "local", sess)
	return sess, nil
}

type signUpInput struct {
	Email  string `validate:"required,email"`
	Secret string `validate:"required,min=6"`
	Attrs  domain.SignUpAttributes
}

// SignUp registers a new user. The profile it creates is always a pending
// citizen. When the provider returns a session it is adopted.
func (m *SessionManager) SignUp(ctx context.Context, email, secret string, attrs domain.SignUpAttributes) (*domain.Session, error) {
	if err := m.validate.Struct(signUpInput{Email: email, Secret: secret, Attrs: attrs}); err != nil {
		return nil, fmt.Errorf("sign up: %w: %v", domain.ErrInvalidSignUp, err)
	}
	sess, err := m.provider.SignUp(ctx, email, secret, attrs)
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	if sess != nil {
		m.transitions.Add(1)
		m.applySession(ctx, "local", sess)
	}
	return sess, nil
}

// SignOut asks the provider to end the session. Local state is cleared even
// when the provider call fails; that error is still returned.
func (m *SessionManager) SignOut(ctx context.Context) error {
	err := m.provider.SignOut(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("provider sign-out failed, clearing local session anyway")
	}

	m.transitions.Add(1)
	m.mu.Lock()
	if m.session != nil {
		m.retired[m.session.ID] = struct{}{}
	}
	m.gen++
	m.session = nil
	m.user = nil
	m.profile = nil
	m.version++
	m.profiles.Clear()
	m.mu.Unlock()
	metrics.SessionEventsTotal.WithLabelValues("local").Inc()

	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// UpdateProfile applies a self-service edit for the signed-in user.
func (m *SessionManager) UpdateProfile(ctx context.Context, patch domain.ProfilePatch) (*domain.Profile, error) {
	m.mu.RLock()
	gen := m.gen
	var userID string
	if m.user != nil {
		userID = m.user.ID
	}
	m.mu.RUnlock()

	p, err := m.profiles.UpdateOwn(ctx, userID, patch)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if gen == m.gen {
		m.profile = p.Clone()
		m.version++
	}
	m.mu.Unlock()
	return p, nil
}

// Close releases the provider subscription and waits for the event loop.
// It is safe to call more than once and without Initialize.
func (m *SessionManager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.cancel()
		m.mu.RLock()
		sub := m.sub
		m.mu.RUnlock()
		if sub != nil {
			err = sub.Unsubscribe()
		}
		m.wg.Wait()
	})
	return err
}

// State returns an immutable snapshot of the auth state.
func (m *SessionManager) State() domain.AuthState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := domain.AuthState{
		Profile:     m.profile.Clone(),
		Loading:     m.loading,
		Initialized: m.initialized,
		Version:     m.version,
	}
	if m.user != nil {
		u := *m.user
		st.User = &u
	}
	return st
}

// CurrentUser returns the signed-in user or nil.
func (m *SessionManager) CurrentUser() *domain.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// Session returns the live session or nil.
func (m *SessionManager) Session() *domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSession(m.session)
}

func (m *SessionManager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

func (m *SessionManager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Ready is closed once loading has been released.
func (m *SessionManager) Ready() <-chan struct{} { return m.ready }

func cloneSession(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
