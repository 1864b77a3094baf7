package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lysyi3m/manga-reader/app/database"
	"github.com/lysyi3m/manga-reader/app/database/dbtest"
)

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if err := CheckPassword(hash, "hunter2"); err != nil {
		t.Errorf("Expected password to match, got %v", err)
	}
	if err := CheckPassword(hash, "hunter3"); err == nil {
		t.Error("Expected wrong password to fail")
	}
}

func TestFeedToken(t *testing.T) {
	secret := []byte("secret")
	token := FeedToken(secret, "reader", "hash", "")
	if !ValidHex(token, FeedTokenLength) {
		t.Errorf("Expected 32-hex token, got %q", token)
	}
	if FeedToken(secret, "reader", "hash", "") != token {
		t.Error("Expected token to be deterministic")
	}
	if FeedToken(secret, "reader", "hash", "salt") == token {
		t.Error("Expected salt to change the token")
	}
	if FeedToken([]byte("other"), "reader", "hash", "") == token {
		t.Error("Expected secret to change the token")
	}
}

func TestAPIKey(t *testing.T) {
	a, err := NewAPIKey()
	if err != nil {
		t.Fatalf("NewAPIKey failed: %v", err)
	}
	b, _ := NewAPIKey()
	if !ValidHex(a, APIKeyLength) {
		t.Errorf("Expected 64-hex key, got %q", a)
	}
	if a == b {
		t.Error("Expected distinct keys")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		err    error
	}{
		{"Bearer abc", "abc", nil},
		{"bearer abc", "abc", nil},
		{"Invalid", "", ErrMalformedHeader},
		{"Bearer", "", ErrMalformedHeader},
		{"Bearer ", "", ErrMalformedHeader},
		{"Basic abc", "", ErrMalformedHeader},
		{"Bearer a b", "", ErrMalformedHeader},
	}
	for _, tt := range tests {
		token, err := BearerToken(tt.header)
		if token != tt.token || !errors.Is(err, tt.err) {
			t.Errorf("BearerToken(%q): expected (%q, %v), got (%q, %v)", tt.header, tt.token, tt.err, token, err)
		}
	}
}

func TestSessions(t *testing.T) {
	s := NewSessions([]byte("secret"), "test", time.Hour)
	token, exp, err := s.Sign(42, "reader")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("Expected future expiry, got %v", exp)
	}
	id, err := s.Parse(token)
	if err != nil || id != 42 {
		t.Errorf("Expected user 42, got %d (%v)", id, err)
	}

	other := NewSessions([]byte("other"), "test", time.Hour)
	if _, err := other.Parse(token); err == nil {
		t.Error("Expected token signed with another secret to fail")
	}

	expired := NewSessions([]byte("secret"), "test", -time.Minute)
	old, _, _ := expired.Sign(42, "reader")
	if _, err := s.Parse(old); err == nil {
		t.Error("Expected expired token to fail")
	}
}

func TestServiceAuthenticate(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	svc := NewService(db, "secret", time.Hour)

	user := &database.User{Username: "reader", Email: "reader@example.com"}
	if err := svc.CreateUser(ctx, user, "hunter2"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if got, err := svc.Authenticate(ctx, Credentials{}); got != nil || err != nil {
		t.Errorf("Expected anonymous caller, got %v %v", got, err)
	}

	key, err := database.NewUserRepository(db).APIKey(ctx, user.ID)
	if err != nil {
		t.Fatalf("Expected API key to be provisioned: %v", err)
	}
	got, err := svc.Authenticate(ctx, Credentials{APIKey: key.Key})
	if err != nil || got == nil || got.ID != user.ID {
		t.Errorf("Expected API key to authenticate user, got %v %v", got, err)
	}

	if _, err := svc.Authenticate(ctx, Credentials{APIKey: "nope"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}

	session, _, _ := svc.Sessions().Sign(user.ID, user.Username)
	got, err = svc.Authenticate(ctx, Credentials{Session: session})
	if err != nil || got == nil || got.ID != user.ID {
		t.Errorf("Expected session to authenticate user, got %v %v", got, err)
	}

	if got, err := svc.Authenticate(ctx, Credentials{Session: "garbage"}); got != nil || err != nil {
		t.Errorf("Expected stale session to be anonymous, got %v %v", got, err)
	}
	got, err = svc.Authenticate(ctx, Credentials{Session: "garbage", APIKey: key.Key})
	if err != nil || got == nil || got.ID != user.ID {
		t.Errorf("Expected API key to back up a stale session, got %v %v", got, err)
	}

	if _, err := svc.Login(ctx, "reader", "hunter2"); err != nil {
		t.Errorf("Expected login to succeed, got %v", err)
	}
	if _, err := svc.Login(ctx, "reader", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
}

func TestServiceFeedTokenRotation(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	svc := NewService(db, "secret", time.Hour)

	user := &database.User{Username: "reader"}
	if err := svc.CreateUser(ctx, user, "hunter2"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	profile, err := database.NewUserRepository(db).Profile(ctx, user.ID)
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}

	if got, err := svc.FeedUser(ctx, profile.Token); err != nil || got.ID != user.ID {
		t.Errorf("Expected feed token to resolve user, got %v %v", got, err)
	}

	rotated, err := svc.RotateFeedToken(ctx, user)
	if err != nil {
		t.Fatalf("RotateFeedToken failed: %v", err)
	}
	if rotated == profile.Token {
		t.Error("Expected rotation to change the token")
	}
	if _, err := svc.FeedUser(ctx, profile.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected old token to be rejected, got %v", err)
	}
	if got, err := svc.FeedUser(ctx, rotated); err != nil || got.ID != user.ID {
		t.Errorf("Expected rotated token to resolve user, got %v %v", got, err)
	}
	if _, err := svc.FeedUser(ctx, "invalid"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for malformed token, got %v", err)
	}
}

func TestCanManage(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	svc := NewService(db, "secret", time.Hour)
	s := dbtest.Series(t, db, "blame", "Blame!")
	reader := dbtest.User(t, db, "reader", "token")

	if ok, _ := svc.CanManage(ctx, nil, s.ID); ok {
		t.Error("Expected anonymous caller to be refused")
	}
	if ok, _ := svc.CanManage(ctx, reader, s.ID); ok {
		t.Error("Expected plain reader to be refused")
	}

	s.ManagerID = &reader.ID
	if err := database.NewSeriesRepository(db).Update(ctx, s); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if ok, err := svc.CanManage(ctx, reader, s.ID); !ok || err != nil {
		t.Errorf("Expected manager to be allowed, got %v %v", ok, err)
	}

	if ok, _ := svc.CanManage(ctx, &database.User{ID: 999, IsScanlator: true}, s.ID); !ok {
		t.Error("Expected scanlator to be allowed")
	}
}
