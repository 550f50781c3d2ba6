// Package auth implements the single-operator login and session tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/leonardo-lacerda/InstanciaEvo/internal/util"
	pwd "github.com/leonardo-lacerda/InstanciaEvo/pkg/auth"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/app"
)

const (
	issuer           = "evolution-console"
	revokedKeyPrefix = "revokedSession:"
)

type Config struct {
	Username string
	// Password is either plain text or a bcrypt hash.
	Password string
	Secret   string
}

type claims struct {
	Role      domain.Role `json:"role"`
	LoginTime int64       `json:"loginTime"`
	jwt.RegisteredClaims
}

type Service struct {
	app          *app.App
	username     string
	passwordHash string
	secret       []byte
}

func New(a *app.App, cfg Config) (*Service, error) {
	if strings.TrimSpace(cfg.Username) == "" || cfg.Password == "" {
		return nil, errors.New("admin credentials required")
	}
	if len(cfg.Secret) < 16 {
		return nil, errors.New("session secret must be at least 16 characters")
	}
	hash := cfg.Password
	if !pwd.IsHash(hash) {
		var err error
		hash, err = pwd.HashPassword(cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
	}
	return &Service{
		app:          a,
		username:     strings.TrimSpace(cfg.Username),
		passwordHash: hash,
		secret:       []byte(cfg.Secret),
	}, nil
}

// Login checks the credentials and opens a session valid for the app's
// session window.
func (s *Service) Login(ctx context.Context, username, password string) (domain.Session, string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(s.username)) == 1
	passOK := pwd.CheckPassword(password, s.passwordHash)
	if !userOK || !passOK {
		return domain.Session{}, "", app.ErrInvalidCredentials
	}
	session := domain.Session{
		Username:  s.username,
		Role:      domain.RoleAdmin,
		LoginTime: s.app.Now().UTC().Truncate(time.Second),
		SessionID: util.NewPrefixedID("sess"),
	}
	token, err := s.sign(session)
	if err != nil {
		return domain.Session{}, "", err
	}
	if err := s.app.State.SetCurrentUser(ctx, &session); err != nil {
		return domain.Session{}, "", err
	}
	return session, token, nil
}

// Verify parses token and checks the window and revocation list.
func (s *Service) Verify(ctx context.Context, token string) (domain.Session, error) {
	c := claims{}
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.app.Now),
	)
	if err != nil || !parsed.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Session{}, app.ErrSessionExpired
		}
		return domain.Session{}, app.ErrInvalidCredentials
	}
	session := domain.Session{
		Username:  c.Subject,
		Role:      c.Role,
		LoginTime: time.Unix(c.LoginTime, 0).UTC(),
		SessionID: c.ID,
	}
	if !session.ValidAt(s.app.Now(), s.app.SessionWindow) {
		return domain.Session{}, app.ErrSessionExpired
	}
	revoked, err := s.app.KV.GetItem(ctx, revokedKeyPrefix+session.SessionID, nil)
	if err != nil {
		return domain.Session{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return domain.Session{}, app.ErrSessionExpired
	}
	return session, nil
}

// Logout revokes the session until its window ends and forgets the current
// user and instance.
func (s *Service) Logout(ctx context.Context, token string) error {
	session, err := s.Verify(ctx, token)
	if err != nil {
		return err
	}
	until := session.LoginTime.Add(s.app.SessionWindow)
	if err := s.app.KV.SetItem(ctx, revokedKeyPrefix+session.SessionID, true, &until); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return s.app.State.SetCurrentUser(ctx, nil)
}

// Restore returns the persisted session when it is still inside its window.
// An expired one is cleared.
func (s *Service) Restore(ctx context.Context) (*domain.Session, error) {
	current := s.app.State.CurrentUser()
	if current == nil {
		return nil, nil
	}
	if current.ValidAt(s.app.Now(), s.app.SessionWindow) {
		return current, nil
	}
	if err := s.app.State.SetCurrentUser(ctx, nil); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Service) sign(session domain.Session) (string, error) {
	c := claims{
		Role:      session.Role,
		LoginTime: session.LoginTime.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   session.Username,
			ID:        session.SessionID,
			IssuedAt:  jwt.NewNumericDate(session.LoginTime),
			ExpiresAt: jwt.NewNumericDate(session.LoginTime.Add(s.app.SessionWindow)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return token, nil
}
