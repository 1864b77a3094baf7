// Package auth resolves callers from session cookies, API keys and feed
// tokens, and provisions the credentials of new users.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/manga-reader/app/database"
)

var (
	// ErrInvalidCredentials is returned when a supplied credential does not match any user.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned for unknown or malformed feed tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Credentials are the raw values a request may authenticate with.
type Credentials struct {
	Session string
	APIKey  string
}

func (c Credentials) Empty() bool {
	return c.Session == "" && c.APIKey == ""
}

type Service struct {
	db       *database.DB
	secret   []byte
	sessions *Sessions
}

func NewService(db *database.DB, secret string, sessionTTL time.Duration) *Service {
	key := []byte(secret)
	return &Service{
		db:       db,
		secret:   key,
		sessions: NewSessions(key, "manga-reader", sessionTTL),
	}
}

func (s *Service) Sessions() *Sessions {
	return s.sessions
}

// Authenticate returns the user identified by creds, or nil for an
// anonymous caller. The session cookie wins over the API key. A stale
// session is treated as absent; an unknown API key is an error.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (*database.User, error) {
	users := database.NewUserRepository(s.db)

	if creds.Session != "" {
		if id, err := s.sessions.Parse(creds.Session); err == nil {
			user, err := users.Get(ctx, id)
			if err == nil {
				return user, nil
			}
			if !errors.Is(err, database.ErrNotFound) {
				return nil, err
			}
		}
	}

	if creds.APIKey != "" {
		if !ValidHex(creds.APIKey, APIKeyLength) {
			return nil, ErrInvalidCredentials
		}
		user, err := users.GetByAPIKey(ctx, creds.APIKey)
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return user, err
	}

	return nil, nil
}

// Login checks a username and password.
func (s *Service) Login(ctx context.Context, username, password string) (*database.User, error) {
	user, err := database.NewUserRepository(s.db).GetByUsername(ctx, username)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := CheckPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// FeedUser returns the owner of a bookmark feed token.
func (s *Service) FeedUser(ctx context.Context, token string) (*database.User, error) {
	if !ValidHex(token, FeedTokenLength) {
		return nil, ErrInvalidToken
	}
	user, err := database.NewUserRepository(s.db).GetByFeedToken(ctx, token)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	return user, err
}

// CreateUser stores u with a hashed password, a profile holding a feed
// token and an API key.
func (s *Service) CreateUser(ctx context.Context, u *database.User, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hash

	apiKey, err := NewAPIKey()
	if err != nil {
		return err
	}

	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		users := database.NewUserRepository(tx)
		if err := users.Create(ctx, u); err != nil {
			return err
		}
		token := FeedToken(s.secret, u.Username, u.PasswordHash, "")
		if err := users.CreateProfile(ctx, &database.UserProfile{UserID: u.ID, Token: token}); err != nil {
			return err
		}
		return users.SetAPIKey(ctx, u.ID, apiKey)
	})
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", u.Username, err)
	}

	slog.Info("User created", "username", u.Username, "staff", u.IsStaff)
	return nil
}

// RotateFeedToken replaces the feed token of user and returns the new one.
func (s *Service) RotateFeedToken(ctx context.Context, user *database.User) (string, error) {
	salt, err := randomHex(8)
	if err != nil {
		return "", err
	}
	token := FeedToken(s.secret, user.Username, user.PasswordHash, salt)
	if err := database.NewUserRepository(s.db).SetFeedToken(ctx, user.ID, token); err != nil {
		return "", fmt.Errorf("failed to rotate feed token: %w", err)
	}
	slog.Info("Feed token rotated", "username", user.Username)
	return token, nil
}

// RotateAPIKey replaces the API key of user and returns the new one.
func (s *Service) RotateAPIKey(ctx context.Context, user *database.User) (string, error) {
	key, err := NewAPIKey()
	if err != nil {
		return "", err
	}
	if err := database.NewUserRepository(s.db).SetAPIKey(ctx, user.ID, key); err != nil {
		return "", fmt.Errorf("failed to rotate API key: %w", err)
	}
	return key, nil
}

// CanManage reports whether user may modify the series with seriesID:
// staff and scanlators always, otherwise only the series manager.
func (s *Service) CanManage(ctx context.Context, user *database.User, seriesID int64) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.IsStaff || user.IsSuperuser || user.IsScanlator {
		return true, nil
	}
	return database.NewUserRepository(s.db).Manages(ctx, user.ID, seriesID)
}
