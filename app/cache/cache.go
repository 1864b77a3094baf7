// Package cache is a read-through cache whose entries are signed with the
// site secret, so a shared cache server cannot feed forged data back.
package cache

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
)

// SignatureSize is the length of the keyed hash prepended to every entry.
const SignatureSize = 16

// ErrTampered is returned when an entry's signature does not match.
var ErrTampered = errors.New("cache entry signature mismatch")

// Cache signs entries before handing them to a Backend.
type Cache struct {
	backend Backend
	key     []byte
}

// New derives the signing key from secret.
func New(backend Backend, secret string) *Cache {
	key := blake2b.Sum256([]byte("cache-signing:" + secret))
	return &Cache{backend: backend, key: key[:]}
}

func (c *Cache) Backend() Backend {
	return c.backend
}

func (c *Cache) sign(payload []byte) []byte {
	mac, err := blake2b.New(SignatureSize, c.key)
	if err != nil {
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	mac.Write(payload)
	return mac.Sum(nil)
}

// GetBytes returns the verified payload stored under key.
func (c *Cache) GetBytes(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(raw) < SignatureSize {
		return nil, ErrTampered
	}
	sig, payload := raw[:SignatureSize], raw[SignatureSize:]
	if subtle.ConstantTimeCompare(sig, c.sign(payload)) != 1 {
		return nil, ErrTampered
	}
	return payload, nil
}

// SetBytes stores payload under key with its signature prepended.
func (c *Cache) SetBytes(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	entry := make([]byte, 0, SignatureSize+len(payload))
	entry = append(entry, c.sign(payload)...)
	entry = append(entry, payload...)
	return c.backend.Set(ctx, key, entry, ttl)
}

// Get decodes the JSON entry under key into dst.
func (c *Cache) Get(ctx context.Context, key string, dst any) error {
	payload, err := c.GetBytes(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return nil
}

// Set stores v as JSON under key.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}
	return c.SetBytes(ctx, key, payload, ttl)
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	return c.backend.Delete(ctx, keys...)
}

func (c *Cache) DeletePrefix(ctx context.Context, prefix string) error {
	return c.backend.DeletePrefix(ctx, prefix)
}

// Remember returns the cached value under key, or computes it with fn and
// stores it. Cache failures are logged and never fail the read.
func Remember[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var value T
	err := c.Get(ctx, key, &value)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrMiss) {
		slog.Warn("Discarding unreadable cache entry", "key", key, "error", err)
		c.Delete(ctx, key)
	}

	value, err = fn(ctx)
	if err != nil {
		return value, err
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		slog.Warn("Failed to store cache entry", "key", key, "error", err)
	}
	return value, nil
}

// Key names.
func SeriesKey(slug string) string   { return "reader.series." + slug }
func ChaptersKey(slug string) string { return "reader.chapters." + slug }
func ChapterKey(slug string, id int64) string {
	return ChaptersKey(slug) + "." + strconv.FormatInt(id, 10)
}
func GroupKey(id int64) string      { return "groups." + strconv.FormatInt(id, 10) }
func FeedKey(name string) string    { return "feeds." + name }
func BookmarksKey(uid int64) string { return "bookmarks." + strconv.FormatInt(uid, 10) }

// SeriesChanged drops everything derived from a series.
func (c *Cache) SeriesChanged(ctx context.Context, slug string) error {
	return c.dropPrefixes(ctx, SeriesKey(slug), ChaptersKey(slug), "feeds.", "bookmarks.")
}

// ChapterChanged drops everything derived from a chapter of a series.
func (c *Cache) ChapterChanged(ctx context.Context, slug string, chapterID int64) error {
	return c.dropPrefixes(ctx, SeriesKey(slug), ChaptersKey(slug), "feeds.", "bookmarks.")
}

// GroupChanged drops a group and its release feeds.
func (c *Cache) GroupChanged(ctx context.Context, id int64) error {
	return c.dropPrefixes(ctx, GroupKey(id), FeedKey("groups."+strconv.FormatInt(id, 10)))
}

// BookmarksChanged drops the bookmark feed of a user.
func (c *Cache) BookmarksChanged(ctx context.Context, uid int64) error {
	return c.dropPrefixes(ctx, BookmarksKey(uid))
}

func (c *Cache) dropPrefixes(ctx context.Context, prefixes ...string) error {
	var errs []error
	for _, prefix := range prefixes {
		if err := c.backend.DeletePrefix(ctx, prefix); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
