package database

import (
	"strings"
	"testing"
	"time"
)

func TestSqliteDSN(t *testing.T) {
	tests := []struct {
		url    string
		prefix string
		memory bool
	}{
		{"sqlite://:memory:", "file::memory:?", true},
		{":memory:", "file::memory:?", true},
		{"sqlite:///db.sqlite3", "file:db.sqlite3?", false},
		{"sqlite:////var/lib/manga/db.sqlite3", "file:/var/lib/manga/db.sqlite3?", false},
		{"data/db.sqlite3", "file:data/db.sqlite3?", false},
	}

	for _, test := range tests {
		t.Run(test.url, func(t *testing.T) {
			dsn, memory, err := sqliteDSN(test.url)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if !strings.HasPrefix(dsn, test.prefix) {
				t.Errorf("Expected DSN to start with %q, got %q", test.prefix, dsn)
			}
			if memory != test.memory {
				t.Errorf("Expected memory=%v, got %v", test.memory, memory)
			}
			if !strings.Contains(dsn, "foreign_keys") {
				t.Errorf("Expected foreign keys pragma in %q", dsn)
			}
		})
	}
}

func TestSqliteDSNInvalid(t *testing.T) {
	for _, url := range []string{"postgres://localhost/db", "sqlite://"} {
		if _, _, err := sqliteDSN(url); err == nil {
			t.Errorf("Expected error for %q", url)
		}
	}
}

func TestFold(t *testing.T) {
	if Fold("ÉTÉ Straße") != Fold("été strasse") {
		t.Errorf("Expected case folded strings to match: %q vs %q", Fold("ÉTÉ Straße"), Fold("été strasse"))
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 9, 12, 30, 45, 123456000, time.FixedZone("X", 3600))

	value, err := Timestamp(now).Value()
	if err != nil {
		t.Fatal(err)
	}
	if value != "2024-03-09T11:30:45.123456Z" {
		t.Errorf("Expected fixed width UTC text, got %v", value)
	}

	var ts Timestamp
	if err := ts.Scan(value); err != nil {
		t.Fatal(err)
	}
	if !time.Time(ts).Equal(now) {
		t.Errorf("Expected %v, got %v", now, time.Time(ts))
	}

	if err := ts.Scan(42); err == nil {
		t.Error("Expected error scanning an integer")
	}
}

func TestChapterName(t *testing.T) {
	vol := int64(2)
	tests := []struct {
		chapter  Chapter
		format   string
		expected string
	}{
		{Chapter{Number: 5, Volume: &vol, Title: "Start"}, "", "Vol. 2, Ch. 5: Start"},
		{Chapter{Number: 5.5}, "", "Ch. 5.5"},
		{Chapter{Number: 0, Title: "Prologue"}, "{series} - {number}: {title}", "Series - 0: Prologue"},
	}

	for _, test := range tests {
		if got := test.chapter.Name(test.format, "Series"); got != test.expected {
			t.Errorf("Expected %q, got %q", test.expected, got)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := map[float64]string{0: "0", 0.5: "0.5", 12: "12", 10.125: "10.125"}
	for n, expected := range tests {
		if got := FormatNumber(n); got != expected {
			t.Errorf("Expected %q for %v, got %q", expected, n, got)
		}
	}
}

func TestValidSlug(t *testing.T) {
	for _, slug := range []string{"one-piece", "A_B_1"} {
		if !ValidSlug(slug) {
			t.Errorf("Expected %q to be valid", slug)
		}
	}
	for _, slug := range []string{"", "with space", "slash/slug", "ünï"} {
		if ValidSlug(slug) {
			t.Errorf("Expected %q to be invalid", slug)
		}
	}
}
