package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
)

const minSecretLength = 6

// sessionClaims is the JWT payload of an access token. Subject is the user
// id and ID is the session id.
type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// AuthService implements registration and the session lifecycle on the
// backend side.
type AuthService struct {
	creds     ports.CredentialRepository
	profiles  ports.ProfileRepository
	sessions  ports.SessionStore
	bus       ports.EventBus
	jwtSecret string
	tokenTTL  time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

func NewAuthService(
	creds ports.CredentialRepository,
	profiles ports.ProfileRepository,
	sessions ports.SessionStore,
	bus ports.EventBus,
	jwtSecret string,
	tokenTTL time.Duration,
	log zerolog.Logger,
) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthService{
		creds:     creds,
		profiles:  profiles,
		sessions:  sessions,
		bus:       bus,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SignUp stores the credentials and creates the pending citizen profile.
// The profile type requested in attrs is not honoured.
func (s *AuthService) SignUp(ctx context.Context, email, secret string, attrs domain.SignUpAttributes) (*domain.User, error) {
	email = normalizeEmail(email)
	if email == "" || len(secret) < minSecretLength {
		return nil, domain.ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("sign up: hash secret: %w", err)
	}

	now := s.now()
	user := domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.creds.Create(ctx, &domain.Credentials{
		UserID:       user.ID,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}

	if attrs.ProfileType != "" && attrs.ProfileType != domain.ProfileCitizen {
		s.log.Info().Str("user_id", user.ID).Str("requested", string(attrs.ProfileType)).
			Msg("requested profile type ignored, awaiting admin review")
	}
	if err := s.profiles.Insert(ctx, domain.NewPendingProfile(user, attrs, now)); err != nil {
		return nil, fmt.Errorf("sign up: create profile: %w", err)
	}

	s.log.Info().Str("user_id", user.ID).Msg("user signed up")
	return &user, nil
}

// SignIn verifies the credentials and opens a new session.
func (s *AuthService) SignIn(ctx context.Context, email, secret string) (*domain.Session, error) {
	email = normalizeEmail(email)
	if email == "" || secret == "" {
		return nil, domain.ErrInvalidCredentials
	}

	c, err := s.creds.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(secret)) != nil {
		return nil, domain.ErrInvalidCredentials
	}

	sess, err := s.issue(ksuid.New().String(), domain.User{
		ID:        c.UserID,
		Email:     c.Email,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("sign in: store session: %w", err)
	}

	s.publish(ctx, ports.EventSignedIn, sess)
	return sess, nil
}

// SignOut revokes the session behind accessToken. An expired token still
// identifies its session, so it can be revoked too.
func (s *AuthService) SignOut(ctx context.Context, accessToken string) error {
	claims, err := s.parse(accessToken, true)
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, claims.ID); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	s.publish(ctx, ports.EventSignedOut, &domain.Session{
		ID:   claims.ID,
		User: domain.User{ID: claims.Subject, Email: claims.Email},
	})
	return nil
}

// Verify resolves accessToken to its live session.
func (s *AuthService) Verify(ctx context.Context, accessToken string) (*domain.Session, error) {
	claims, err := s.parse(accessToken, false)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Find(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("verify session: %w", err)
	}
	if sess.AccessToken != accessToken {
		// superseded by a refresh
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

// Refresh extends a live session and returns it with a new token.
func (s *AuthService) Refresh(ctx context.Context, accessToken string) (*domain.Session, error) {
	cur, err := s.Verify(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	sess, err := s.issue(cur.ID, cur.User)
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	s.publish(ctx, ports.EventTokenRefreshed, sess)
	return sess, nil
}

func (s *AuthService) issue(sessionID string, user domain.User) (*domain.Session, error) {
	now := s.now()
	exp := now.Add(s.tokenTTL)
	claims := sessionClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &domain.Session{
		ID:          sessionID,
		AccessToken: signed,
		User:        user,
		ExpiresAt:   exp,
	}, nil
}

func (s *AuthService) parse(accessToken string, allowExpired bool) (*sessionClaims, error) {
	if accessToken == "" {
		return nil, domain.ErrNotAuthenticated
	}
	claims := &sessionClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if allowExpired {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	tkn, err := jwt.ParseWithClaims(accessToken, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, opts...)
	if err != nil || !tkn.Valid || claims.ID == "" || claims.Subject == "" {
		return nil, domain.ErrNotAuthenticated
	}
	return claims, nil
}

// publish is best effort: a lost event only delays remote clients until
// their next session check.
func (s *AuthService) publish(ctx context.Context, kind ports.AuthEventKind, sess *domain.Session) {
	if s.bus == nil {
		return
	}
	ev := ports.BusEvent{Kind: kind, SessionID: sess.ID, UserID: sess.User.ID}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("kind", string(kind)).Str("session_id", sess.ID).Msg("failed to publish auth event")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
