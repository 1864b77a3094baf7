package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/manga-reader/app/database"
	"github.com/lysyi3m/manga-reader/app/feed"
)

func newEnv(t *testing.T, vars map[string]string) (*env, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	stdin, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", os.DevNull, err)
	}
	t.Cleanup(func() { stdin.Close() })

	var stdout, stderr bytes.Buffer
	return &env{
		stdin:  stdin,
		stdout: &stdout,
		stderr: &stderr,
		getenv: func(key string) string { return vars[key] },
	}, &stdout, &stderr
}

func dbFlag(t *testing.T) string {
	return "--database-url=" + filepath.Join(t.TempDir(), "db.sqlite3")
}

func TestCreateUser(t *testing.T) {
	e, stdout, stderr := newEnv(t, nil)
	dbURL := dbFlag(t)

	code := run([]string{dbURL, "--secret-key=secret", "createuser", "--username=alice", "--password=hunter2", "--staff"}, e)
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d (%s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Created user alice") {
		t.Errorf("Expected confirmation, got %q", stdout.String())
	}

	db, err := database.NewConnection(strings.TrimPrefix(dbURL, "--database-url="))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	user, err := database.NewUserRepository(db).GetByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Failed to load user: %v", err)
	}
	if !user.IsStaff {
		t.Errorf("Expected staff user")
	}

	code = run([]string{dbURL, "--secret-key=secret", "createuser", "--username=alice", "--password=other"}, e)
	if code != 1 {
		t.Errorf("Expected exit code 1 for duplicate user, got %d", code)
	}
}

func TestCreateUserWithoutTerminal(t *testing.T) {
	isTerminal = func(int) bool { return false }
	defer func() { isTerminal = termIsTerminal }()

	e, _, stderr := newEnv(t, nil)

	code := run([]string{dbFlag(t), "--secret-key=secret", "createuser", "--username=bob"}, e)
	if code != exitNoTTY {
		t.Errorf("Expected exit code %d, got %d", exitNoTTY, code)
	}
	if !strings.Contains(stderr.String(), "--password") {
		t.Errorf("Expected hint about --password, got %q", stderr.String())
	}
}

func TestEditSitesWithoutEditor(t *testing.T) {
	e, _, _ := newEnv(t, nil)
	sitesFile := filepath.Join(t.TempDir(), "sites.yml")

	code := run([]string{"--sites-file=" + sitesFile, "edit-sites"}, e)
	if code != exitNoEditor {
		t.Errorf("Expected exit code %d, got %d", exitNoEditor, code)
	}
}

func TestEditSitesValidatesResult(t *testing.T) {
	sitesFile := filepath.Join(t.TempDir(), "sites.yml")
	content := "sites:\n  - id: 1\n    domain: manga.example.com\n    name: Example\n"
	if err := os.WriteFile(sitesFile, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write sites file: %v", err)
	}

	e, stdout, stderr := newEnv(t, map[string]string{"EDITOR": "true"})

	code := run([]string{"--sites-file=" + sitesFile, "edit-sites"}, e)
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d (%s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "manga.example.com") {
		t.Errorf("Expected site listing, got %q", stdout.String())
	}
}

func TestRotateToken(t *testing.T) {
	e, stdout, stderr := newEnv(t, nil)
	dbURL := dbFlag(t)

	if code := run([]string{dbURL, "--secret-key=secret", "createuser", "--username=carol", "--password=pw"}, e); code != 0 {
		t.Fatalf("Expected exit code 0, got %d (%s)", code, stderr.String())
	}

	stdout.Reset()
	if code := run([]string{dbURL, "--secret-key=secret", "rotate-token", "--username=carol", "--kind=api"}, e); code != 0 {
		t.Fatalf("Expected exit code 0, got %d (%s)", code, stderr.String())
	}
	if key := strings.TrimSpace(stdout.String()); len(key) != 64 {
		t.Errorf("Expected 64 character API key, got %q", key)
	}

	if code := run([]string{dbURL, "--secret-key=secret", "rotate-token", "--username=nobody"}, e); code != 1 {
		t.Errorf("Expected exit code 1 for unknown user, got %d", code)
	}
}

func TestCheckFeed(t *testing.T) {
	data := feed.NewGenerator("test").Run(feed.FormatAtom, &feed.Feed{
		Title:   "Latest releases",
		Link:    "https://manga.example.com/",
		SelfURL: "https://manga.example.com/feeds/releases.atom",
		Updated: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}, []feed.Item{{
		GUID:      "chapter-1",
		Title:     "Vol. 1, Ch. 1",
		Link:      "https://manga.example.com/reader/series/1/1/",
		Published: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}})

	path := filepath.Join(t.TempDir(), "releases.atom")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write feed: %v", err)
	}

	e, stdout, stderr := newEnv(t, nil)
	if code := run([]string{"check-feed", path}, e); code != 0 {
		t.Fatalf("Expected exit code 0, got %d (%s)", code, stderr.String())
	}

	out := stdout.String()
	if !strings.Contains(out, "Title: Latest releases") {
		t.Errorf("Expected feed title in output, got %q", out)
	}
	if !strings.Contains(out, "Items: 1") {
		t.Errorf("Expected one item, got %q", out)
	}
}

func TestMigrate(t *testing.T) {
	e, stdout, stderr := newEnv(t, nil)

	if code := run([]string{dbFlag(t), "migrate"}, e); code != 0 {
		t.Fatalf("Expected exit code 0, got %d (%s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "dirty: false") {
		t.Errorf("Expected clean schema, got %q", stdout.String())
	}
}
