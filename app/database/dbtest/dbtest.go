// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/lysyi3m/manga-reader/app/database"
)

// Open returns a fresh, fully migrated in-memory database closed at test cleanup.
func Open(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.NewConnection("sqlite://:memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

// Series inserts a series with the given slug and title.
func Series(t testing.TB, db *database.DB, slug, title string) *database.Series {
	t.Helper()

	s := &database.Series{Slug: slug, Title: title}
	if err := database.NewSeriesRepository(db).Create(context.Background(), s); err != nil {
		t.Fatalf("Failed to create series %s: %v", slug, err)
	}
	return s
}

// Chapter inserts a chapter of s published an hour ago.
func Chapter(t testing.TB, db *database.DB, s *database.Series, volume *int64, number float64) *database.Chapter {
	t.Helper()

	c := &database.Chapter{
		SeriesID:  s.ID,
		Title:     "Chapter",
		Number:    number,
		Volume:    volume,
		Published: time.Now().Add(-time.Hour),
	}
	if err := database.NewChapterRepository(db).Create(context.Background(), c); err != nil {
		t.Fatalf("Failed to create chapter %v: %v", number, err)
	}
	c.Series = s
	return c
}

// User inserts a user with a profile holding token.
func User(t testing.TB, db *database.DB, username, token string) *database.User {
	t.Helper()

	ctx := context.Background()
	users := database.NewUserRepository(db)
	u := &database.User{Username: username}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	if err := users.CreateProfile(ctx, &database.UserProfile{UserID: u.ID, Token: token}); err != nil {
		t.Fatalf("Failed to create profile for %s: %v", username, err)
	}
	return u
}

// Vol returns a pointer to v.
func Vol(v int64) *int64 {
	return &v
}
