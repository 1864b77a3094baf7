package feed

import (
	"fmt"
	"time"
)

// TTL is how long rendered feeds are cached and advertised to readers.
const TTL = 10 * time.Minute

type Format string

const (
	FormatAtom Format = "atom"
	FormatRSS  Format = "rss"
)

// ParseFormat maps a feed file extension to a Format.
func ParseFormat(ext string) (Format, error) {
	switch Format(ext) {
	case FormatAtom, FormatRSS:
		return Format(ext), nil
	}
	return "", fmt.Errorf("unsupported feed format: %s", ext)
}

func (f Format) ContentType() string {
	if f == FormatAtom {
		return "application/atom+xml; charset=utf-8"
	}
	return "application/rss+xml; charset=utf-8"
}

// Feed holds channel-level metadata.
type Feed struct {
	Title       string
	Link        string
	SelfURL     string
	Description string
	Language    string
	Author      string
	Updated     time.Time
}

type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Published   time.Time
	Updated     time.Time
	Authors     []string
	Categories  []string
	Enclosure   *Enclosure
}

// Enclosure is a media attachment (RSS 2.0 requires url, length and type).
type Enclosure struct {
	URL    string
	Length int64
	Type   string
}

// LastModified returns the most recent item timestamp, or the Unix epoch
// when there are no items.
func LastModified(items []Item) time.Time {
	latest := time.Unix(0, 0).UTC()
	for _, item := range items {
		ts := item.Updated
		if ts.IsZero() {
			ts = item.Published
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest
}
