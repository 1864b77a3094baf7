package feed

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func sampleFeed() (*Feed, []Item) {
	published := time.Date(2023, 7, 3, 10, 0, 0, 0, time.UTC)
	feed := &Feed{
		Title:       "Reader - Releases",
		Link:        "https://example.com/reader/",
		SelfURL:     "https://example.com/feeds/releases.atom",
		Description: "Latest releases",
		Language:    "en-us",
		Author:      "Reader",
	}
	items := []Item{
		{
			GUID:        "https://example.com/reader/blame/1/1/",
			Title:       "Blame! - Vol. 1, Ch. 1: Net Sphere",
			Link:        "https://example.com/reader/blame/1/1/",
			Description: "Vol. 1, Ch. 1: Net Sphere",
			Published:   published,
			Updated:     published.Add(time.Hour),
			Authors:     []string{"Scans & Co"},
			Categories:  []string{"sci-fi"},
			Enclosure:   &Enclosure{URL: "https://example.com/media/series/blame/cover.png", Length: 1024, Type: "image/png"},
		},
	}
	return feed, items
}

func TestGenerateRSS(t *testing.T) {
	feed, items := sampleFeed()
	out := string(NewGenerator("test").Run(FormatRSS, feed, items))

	expected := []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`<rss version="2.0"`,
		`<title>Reader - Releases</title>`,
		`<atom:link href="https://example.com/feeds/releases.atom" rel="self" type="application/rss+xml" />`,
		`<ttl>10</ttl>`,
		`<guid isPermaLink="true">https://example.com/reader/blame/1/1/</guid>`,
		`<author>Scans &amp; Co</author>`,
		`<pubDate>Mon, 03 Jul 2023 10:00:00 +0000</pubDate>`,
		`<enclosure url="https://example.com/media/series/blame/cover.png" length="1024" type="image/png" />`,
		`<lastBuildDate>Mon, 03 Jul 2023 11:00:00 +0000</lastBuildDate>`,
	}
	for _, s := range expected {
		if !strings.Contains(out, s) {
			t.Errorf("Expected RSS to contain %q\n%s", s, out)
		}
	}
}

func TestGenerateAtom(t *testing.T) {
	feed, items := sampleFeed()
	out := string(NewGenerator("test").Run(FormatAtom, feed, items))

	expected := []string{
		`<feed xmlns="http://www.w3.org/2005/Atom" xml:lang="en-us">`,
		`<link rel="self" href="https://example.com/feeds/releases.atom" />`,
		`<id>https://example.com/feeds/releases.atom</id>`,
		`<updated>2023-07-03T11:00:00Z</updated>`,
		`<published>2023-07-03T10:00:00Z</published>`,
		`<summary type="html">Vol. 1, Ch. 1: Net Sphere</summary>`,
		`<category term="sci-fi" />`,
		`<link rel="enclosure" href="https://example.com/media/series/blame/cover.png" length="1024" type="image/png" />`,
	}
	for _, s := range expected {
		if !strings.Contains(out, s) {
			t.Errorf("Expected Atom to contain %q\n%s", s, out)
		}
	}
}

func TestGenerateEscapesMarkup(t *testing.T) {
	feed, items := sampleFeed()
	items[0].Description = `Ch. 1<br/><a href="https://example.com/x.cbz">Download</a>`
	out := string(NewGenerator("test").Run(FormatAtom, feed, items))

	if strings.Contains(out, "<br/>") {
		t.Error("Expected markup in descriptions to be escaped")
	}
	if !strings.Contains(out, "&lt;br/&gt;") {
		t.Errorf("Expected escaped <br/>, got\n%s", out)
	}
}

func TestEmptyFeed(t *testing.T) {
	feed, _ := sampleFeed()
	gen := NewGenerator("test")

	for _, format := range []Format{FormatAtom, FormatRSS} {
		out := gen.Run(format, feed, nil)
		parsed, items, err := NewParser().Run(out)
		if err != nil {
			t.Fatalf("Expected empty %s feed to parse, got %v", format, err)
		}
		if len(items) != 0 {
			t.Errorf("Expected no items, got %d", len(items))
		}
		if parsed.Title != feed.Title {
			t.Errorf("Expected title %q, got %q", feed.Title, parsed.Title)
		}
	}

	if got := LastModified(nil); !got.Equal(time.Unix(0, 0)) {
		t.Errorf("Expected epoch for empty feed, got %v", got)
	}
	if out := string(gen.Run(FormatAtom, feed, nil)); !strings.Contains(out, "<updated>1970-01-01T00:00:00Z</updated>") {
		t.Errorf("Expected epoch updated element, got\n%s", out)
	}
}

func TestAtomRoundTrip(t *testing.T) {
	feed, items := sampleFeed()
	gen := NewGenerator("test")

	first := gen.Run(FormatAtom, feed, items)
	parsedFeed, parsedItems, err := NewParser().Run(first)
	if err != nil {
		t.Fatalf("Failed to parse generated feed: %v", err)
	}
	second := gen.Run(FormatAtom, parsedFeed, parsedItems)

	if !bytes.Equal(first, second) {
		t.Errorf("Expected identical feed after round trip\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}

func TestParseRSS(t *testing.T) {
	feed, items := sampleFeed()
	out := NewGenerator("test").Run(FormatRSS, feed, items)

	parsed, parsedItems, err := NewParser().Run(out)
	if err != nil {
		t.Fatalf("Failed to parse RSS: %v", err)
	}
	if parsed.SelfURL != feed.SelfURL {
		t.Errorf("Expected self link %s, got %s", feed.SelfURL, parsed.SelfURL)
	}
	if len(parsedItems) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(parsedItems))
	}
	item := parsedItems[0]
	if item.GUID != items[0].GUID {
		t.Errorf("Expected GUID %s, got %s", items[0].GUID, item.GUID)
	}
	if !item.Published.Equal(items[0].Published) {
		t.Errorf("Expected published %v, got %v", items[0].Published, item.Published)
	}
	if item.Enclosure == nil || item.Enclosure.Length != 1024 || item.Enclosure.Type != "image/png" {
		t.Errorf("Expected enclosure to survive, got %+v", item.Enclosure)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("atom"); err != nil || f != FormatAtom {
		t.Errorf("Expected atom, got %v %v", f, err)
	}
	if _, err := ParseFormat("json"); err == nil {
		t.Error("Expected error for unsupported format")
	}
	if ct := FormatRSS.ContentType(); !strings.HasPrefix(ct, "application/rss+xml") {
		t.Errorf("Expected RSS content type, got %s", ct)
	}
}
