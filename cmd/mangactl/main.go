package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"
)

// exitError carries a process exit code out of a subcommand.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

type globalOptions struct {
	DatabaseURL string `long:"database-url" env:"DATABASE_URL" default:"sqlite:///db.sqlite3" description:"Database URL (sqlite:///path or a plain file path)"`
	SecretKey   string `long:"secret-key" env:"SECRET_KEY" description:"Secret used for feed tokens"`
	SitesFile   string `long:"sites-file" env:"SITES_FILE" description:"YAML file listing the sites served by this instance"`
}

// env holds what commands read and write besides their flags.
type env struct {
	opts   *globalOptions
	stdin  *os.File
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
}

func main() {
	os.Exit(run(os.Args[1:], &env{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		getenv: os.Getenv,
	}))
}

func run(args []string, e *env) int {
	e.opts = &globalOptions{}
	parser := flags.NewParser(e.opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "mangactl"

	parser.AddCommand("createuser", "Create a user", "Create a user account. The password is read from the terminal unless --password is given.", &createUserCommand{env: e})
	parser.AddCommand("edit-sites", "Edit the sites file", "Open the sites file in $EDITOR and validate it afterwards.", &editSitesCommand{env: e})
	parser.AddCommand("rotate-token", "Rotate a user token", "Replace the feed token or API key of a user and print the new value.", &rotateTokenCommand{env: e})
	parser.AddCommand("check-feed", "Validate a feed", "Parse an Atom or RSS document from a URL or file and print a summary.", &checkFeedCommand{env: e})
	parser.AddCommand("migrate", "Apply database migrations", "Apply pending database migrations and print the schema version.", &migrateCommand{env: e})

	_, err := parser.ParseArgs(args)
	if err == nil {
		return 0
	}

	var flagsErr *flags.Error
	if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
		fmt.Fprintln(e.stdout, flagsErr.Message)
		return 0
	}

	fmt.Fprintf(e.stderr, "mangactl: %v\n", err)

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return 1
}
