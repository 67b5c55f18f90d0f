// Package bids connects one client process to the backend identity service.
package bids

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
)

const (
	subscriptionBuffer = 16
	// refreshWindow is how close to expiry a stored session gets refreshed.
	refreshWindow = 5 * time.Minute
)

// Client implements ports.IdentityProvider on top of the backend AuthService.
// It keeps its session in a TokenStore and reports transitions made locally
// as well as remote ones from the event bus that concern its session.
type Client struct {
	auth   ports.AuthService
	bus    ports.EventBus
	tokens TokenStore
	log    zerolog.Logger
	now    func() time.Time

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// NewClient creates a Client. bus may be nil, in which case only local
// transitions are reported.
func NewClient(auth ports.AuthService, bus ports.EventBus, tokens TokenStore, log zerolog.Logger) *Client {
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	return &Client{
		auth:   auth,
		bus:    bus,
		tokens: tokens,
		log:    log,
		now:    time.Now,
		subs:   make(map[*subscription]struct{}),
	}
}

// GetCurrentSession verifies the stored session with the backend. A session
// that was revoked or expired is forgotten and reported as nil. Sessions
// close to expiry are refreshed.
func (c *Client) GetCurrentSession(ctx context.Context) (*domain.Session, error) {
	stored, err := c.tokens.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if stored == nil {
		return nil, nil
	}

	sess, err := c.auth.Verify(ctx, stored.AccessToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotAuthenticated) || errors.Is(err, domain.ErrSessionNotFound) {
			c.log.Info().Str("session_id", stored.ID).Msg("stored session is no longer valid")
			if err := c.tokens.Clear(ctx); err != nil {
				c.log.Warn().Err(err).Msg("failed to clear stored session")
			}
			return nil, nil
		}
		return nil, fmt.Errorf("verify session: %w", err)
	}

	if sess.ExpiresAt.Sub(c.now()) < refreshWindow {
		refreshed, err := c.auth.Refresh(ctx, sess.AccessToken)
		if err != nil {
			c.log.Warn().Err(err).Str("session_id", sess.ID).Msg("session refresh failed")
			return sess, nil
		}
		if err := c.tokens.Save(ctx, refreshed); err != nil {
			return nil, fmt.Errorf("store session: %w", err)
		}
		c.broadcast(ports.AuthEvent{Kind: ports.EventTokenRefreshed, Session: refreshed})
		return refreshed, nil
	}
	return sess, nil
}

func (c *Client) SignInWithCredentials(ctx context.Context, email, secret string) (*domain.Session, error) {
	sess, err := c.auth.SignIn(ctx, email, secret)
	if err != nil {
		return nil, err
	}
	if err := c.tokens.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	c.broadcast(ports.AuthEvent{Kind: ports.EventSignedIn, Session: sess})
	return sess, nil
}

// SignUp registers the user and signs in right away. The backend does not
// require confirmation, so the returned session is never nil on success.
func (c *Client) SignUp(ctx context.Context, email, secret string, attrs domain.SignUpAttributes) (*domain.Session, error) {
	if _, err := c.auth.SignUp(ctx, email, secret, attrs); err != nil {
		return nil, err
	}
	return c.SignInWithCredentials(ctx, email, secret)
}

// SignOut forgets the local session first, then revokes it on the backend.
// The backend error, if any, is returned after the local state is gone.
func (c *Client) SignOut(ctx context.Context) error {
	stored, err := c.tokens.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if err := c.tokens.Clear(ctx); err != nil {
		c.log.Warn().Err(err).Msg("failed to clear stored session")
	}
	c.broadcast(ports.AuthEvent{Kind: ports.EventSignedOut})
	if stored == nil {
		return nil
	}
	if err := c.auth.SignOut(ctx, stored.AccessToken); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// OnAuthStateChange opens a subscription. When the bus is unavailable the
// subscription still carries local transitions.
func (c *Client) OnAuthStateChange(ctx context.Context) (ports.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		events: make(chan ports.AuthEvent, subscriptionBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
		detach: c.detach,
	}

	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()

	if c.bus != nil {
		remote, stop, err := c.bus.Subscribe(subCtx)
		if err != nil {
			c.log.Warn().Err(err).Msg("auth event bus unavailable, remote transitions will not be seen")
		} else {
			s.stopRemote = stop
			s.wg.Add(1)
			go c.forward(subCtx, s, remote)
		}
	}
	return s, nil
}

// forward relays bus events about the stored session to s.
func (c *Client) forward(ctx context.Context, s *subscription, remote <-chan ports.BusEvent) {
	defer s.wg.Done()
	for ev := range remote {
		out, ok := c.translate(ctx, ev)
		if !ok {
			continue
		}
		s.send(out)
	}
}

// translate maps a bus event onto the local session. Sign-ins and refreshes
// are reported by the process that made them, so remote ones are ignored.
func (c *Client) translate(ctx context.Context, ev ports.BusEvent) (ports.AuthEvent, bool) {
	cur, err := c.tokens.Load(ctx)
	if err != nil || cur == nil {
		return ports.AuthEvent{}, false
	}
	switch ev.Kind {
	case ports.EventSignedOut:
		if ev.SessionID != cur.ID {
			return ports.AuthEvent{}, false
		}
		c.log.Info().Str("session_id", cur.ID).Msg("session revoked remotely")
		if err := c.tokens.Clear(ctx); err != nil {
			c.log.Warn().Err(err).Msg("failed to clear stored session")
		}
		return ports.AuthEvent{Kind: ports.EventSignedOut}, true
	case ports.EventUserUpdated:
		if ev.UserID != cur.User.ID {
			return ports.AuthEvent{}, false
		}
		return ports.AuthEvent{Kind: ports.EventUserUpdated, Session: cur}, true
	}
	return ports.AuthEvent{}, false
}

func (c *Client) broadcast(ev ports.AuthEvent) {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.send(ev)
	}
}

func (c *Client) detach(s *subscription) {
	c.mu.Lock()
	delete(c.subs, s)
	c.mu.Unlock()
}

type subscription struct {
	events     chan ports.AuthEvent
	done       chan struct{}
	cancel     context.CancelFunc
	stopRemote func() error
	detach     func(*subscription)
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func (s *subscription) Events() <-chan ports.AuthEvent { return s.events }

// send blocks until the event is queued or the subscription is closed.
func (s *subscription) send(ev ports.AuthEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.detach(s)
		close(s.done)
		s.cancel()
		if s.stopRemote != nil {
			err = s.stopRemote()
		}
		s.wg.Wait()

		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	return err
}
