package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/lysyi3m/manga-reader/app/auth"
	"github.com/lysyi3m/manga-reader/app/cfg"
	"github.com/lysyi3m/manga-reader/app/database"
	"github.com/lysyi3m/manga-reader/app/feed"
)

const (
	exitNoEditor = 2
	exitNoTTY    = 3
)

var (
	termIsTerminal = term.IsTerminal
	// isTerminal is replaced in tests.
	isTerminal = termIsTerminal
)

func (e *env) openDB() (*database.DB, error) {
	db, err := database.NewConnection(e.opts.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if _, _, err := database.RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (e *env) authService(db *database.DB) (*auth.Service, error) {
	if e.opts.SecretKey == "" {
		return nil, errors.New("--secret-key or SECRET_KEY is required")
	}
	return auth.NewService(db, e.opts.SecretKey, 0), nil
}

type createUserCommand struct {
	env *env

	Username  string `long:"username" required:"true" description:"Login name"`
	Email     string `long:"email" description:"Email address"`
	Password  string `long:"password" description:"Password; prompted for when omitted"`
	Staff     bool   `long:"staff" description:"Grant staff access"`
	Superuser bool   `long:"superuser" description:"Grant superuser access"`
	Scanlator bool   `long:"scanlator" description:"Allow the user to create series"`
}

func (c *createUserCommand) Execute(args []string) error {
	password := c.Password
	if password == "" {
		var err error
		password, err = c.prompt()
		if err != nil {
			return err
		}
	}

	db, err := c.env.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	service, err := c.env.authService(db)
	if err != nil {
		return err
	}

	user := &database.User{
		Username:    c.Username,
		Email:       c.Email,
		IsStaff:     c.Staff || c.Superuser,
		IsSuperuser: c.Superuser,
		IsScanlator: c.Scanlator,
	}
	if err := service.CreateUser(context.Background(), user, password); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return fmt.Errorf("user %q already exists", c.Username)
		}
		return err
	}

	fmt.Fprintf(c.env.stdout, "Created user %s (id %d)\n", user.Username, user.ID)
	return nil
}

func (c *createUserCommand) prompt() (string, error) {
	fd := int(c.env.stdin.Fd())
	if !isTerminal(fd) {
		return "", &exitError{code: exitNoTTY, err: errors.New("stdin is not a terminal; pass --password")}
	}

	fmt.Fprint(c.env.stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(c.env.stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Fprint(c.env.stderr, "Password (again): ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(c.env.stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if !bytes.Equal(first, second) {
		return "", errors.New("passwords do not match")
	}
	if len(first) == 0 {
		return "", errors.New("password must not be empty")
	}
	return string(first), nil
}

type editSitesCommand struct {
	env *env
}

func (c *editSitesCommand) Execute(args []string) error {
	path := c.env.opts.SitesFile
	if path == "" {
		return errors.New("--sites-file or SITES_FILE is required")
	}

	editor := c.env.getenv("VISUAL")
	if editor == "" {
		editor = c.env.getenv("EDITOR")
	}
	if editor == "" {
		return &exitError{code: exitNoEditor, err: errors.New("neither $VISUAL nor $EDITOR is set")}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte("sites:\n"), 0o644); err != nil {
			return fmt.Errorf("failed to create sites file: %w", err)
		}
	}

	fields := strings.Fields(editor)
	cmd := exec.Command(fields[0], append(fields[1:], path)...)
	cmd.Stdin = c.env.stdin
	cmd.Stdout = c.env.stdout
	cmd.Stderr = c.env.stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("editor failed: %w", err)
	}

	sites := cfg.NewSites(path, "")
	if err := sites.Load(); err != nil {
		return err
	}
	for _, site := range sites.All() {
		fmt.Fprintf(c.env.stdout, "%d\t%s\t%s\n", site.ID, site.Domain, site.Name)
	}
	return nil
}

type rotateTokenCommand struct {
	env *env

	Username string `long:"username" required:"true" description:"User whose token is rotated"`
	Kind     string `long:"kind" choice:"feed" choice:"api" default:"feed" description:"Token to rotate"`
}

func (c *rotateTokenCommand) Execute(args []string) error {
	db, err := c.env.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	service, err := c.env.authService(db)
	if err != nil {
		return err
	}

	ctx := context.Background()
	user, err := database.NewUserRepository(db).GetByUsername(ctx, c.Username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("user %q does not exist", c.Username)
		}
		return err
	}

	var token string
	if c.Kind == "api" {
		token, err = service.RotateAPIKey(ctx, user)
	} else {
		token, err = service.RotateFeedToken(ctx, user)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(c.env.stdout, token)
	return nil
}

type checkFeedCommand struct {
	env *env

	Timeout time.Duration `long:"timeout" default:"30s" description:"Timeout when fetching a URL"`

	Args struct {
		Source string `positional-arg-name:"url-or-file" required:"true"`
	} `positional-args:"true"`
}

func (c *checkFeedCommand) Execute(args []string) error {
	data, err := c.read(c.Args.Source)
	if err != nil {
		return err
	}

	parsed, items, err := feed.NewParser().Run(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.env.stdout, "Title: %s\n", parsed.Title)
	fmt.Fprintf(c.env.stdout, "Link: %s\n", parsed.Link)
	if !parsed.Updated.IsZero() {
		fmt.Fprintf(c.env.stdout, "Updated: %s\n", parsed.Updated.Format(time.RFC3339))
	}
	fmt.Fprintf(c.env.stdout, "Items: %d\n", len(items))
	for _, item := range items {
		fmt.Fprintf(c.env.stdout, "  %s\t%s\n", item.Title, item.Link)
	}
	return nil
}

func (c *checkFeedCommand) read(source string) ([]byte, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("failed to read feed: %w", err)
		}
		return data, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "mangactl/"+cfg.GetVersion())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch feed: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type migrateCommand struct {
	env *env
}

func (c *migrateCommand) Execute(args []string) error {
	db, err := database.NewConnection(c.env.opts.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.env.stdout, "Schema version %d (dirty: %t)\n", version, dirty)
	return nil
}
