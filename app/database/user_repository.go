package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = `id, username, email, password_hash, is_staff, is_superuser, is_scanlator, created`

func scanUser(row scanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash,
		&u.IsStaff, &u.IsSuperuser, &u.IsScanlator, (*Timestamp)(&u.Created))
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserRepository handles users with their profiles and API keys
type UserRepository struct {
	q Querier
}

func NewUserRepository(q Querier) *UserRepository {
	return &UserRepository{q: q}
}

func (r *UserRepository) Get(ctx context.Context, id int64) (*User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

// GetByAPIKey resolves the owner of an API key.
func (r *UserRepository) GetByAPIKey(ctx context.Context, key string) (*User, error) {
	return r.one(ctx, `
		SELECT u.id, u.username, u.email, u.password_hash, u.is_staff, u.is_superuser, u.is_scanlator, u.created
		FROM users u JOIN api_keys k ON k.user_id = u.id
		WHERE k.key = ?
	`, key)
}

// GetByFeedToken resolves the owner of a bookmarks feed token.
func (r *UserRepository) GetByFeedToken(ctx context.Context, token string) (*User, error) {
	return r.one(ctx, `
		SELECT u.id, u.username, u.email, u.password_hash, u.is_staff, u.is_superuser, u.is_scanlator, u.created
		FROM users u JOIN user_profiles p ON p.user_id = u.id
		WHERE p.token = ?
	`, token)
}

func (r *UserRepository) one(ctx context.Context, query string, args ...any) (*User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) Create(ctx context.Context, u *User) error {
	u.Created = time.Now().UTC()
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO users (username, email, password_hash, is_staff, is_superuser, is_scanlator, created)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.Username, u.Email, u.PasswordHash, u.IsStaff, u.IsSuperuser, u.IsScanlator, FormatTime(u.Created))
	if err != nil {
		return wrapWriteErr("create user", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get user id: %w", err)
	}
	return nil
}

func (r *UserRepository) SetPassword(ctx context.Context, id int64, hash string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	return affected(res, "set password")
}

func (r *UserRepository) Profile(ctx context.Context, userID int64) (*UserProfile, error) {
	var p UserProfile
	err := r.q.QueryRowContext(ctx,
		`SELECT id, user_id, bio, avatar, token FROM user_profiles WHERE user_id = ?`, userID).
		Scan(&p.ID, &p.UserID, &p.Bio, &p.Avatar, &p.Token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

func (r *UserRepository) CreateProfile(ctx context.Context, p *UserProfile) error {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id, bio, avatar, token) VALUES (?, ?, ?, ?)`,
		p.UserID, p.Bio, p.Avatar, p.Token)
	if err != nil {
		return wrapWriteErr("create profile", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get profile id: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, p *UserProfile) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE user_profiles SET bio = ?, avatar = ? WHERE user_id = ?`, p.Bio, p.Avatar, p.UserID)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return affected(res, "update profile")
}

func (r *UserRepository) SetFeedToken(ctx context.Context, userID int64, token string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE user_profiles SET token = ? WHERE user_id = ?`, token, userID)
	if err != nil {
		return wrapWriteErr("set feed token", err)
	}
	return affected(res, "set feed token")
}

// SetAPIKey creates or replaces the API key of a user.
func (r *UserRepository) SetAPIKey(ctx context.Context, userID int64, key string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO api_keys (user_id, key, created) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET key = excluded.key, created = excluded.created
	`, userID, key, FormatTime(time.Now()))
	return wrapWriteErr("set api key", err)
}

func (r *UserRepository) APIKey(ctx context.Context, userID int64) (*APIKey, error) {
	var k APIKey
	err := r.q.QueryRowContext(ctx, `SELECT user_id, key, created FROM api_keys WHERE user_id = ?`, userID).
		Scan(&k.UserID, &k.Key, (*Timestamp)(&k.Created))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &k, nil
}

// Manages reports whether the user is the manager of a series.
func (r *UserRepository) Manages(ctx context.Context, userID, seriesID int64) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM series WHERE id = ? AND manager_id = ?`, seriesID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check series manager: %w", err)
	}
	return n > 0, nil
}
