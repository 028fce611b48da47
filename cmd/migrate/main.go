// Команда migrate управляет схемой PostgreSQL маркетплейса:
//
//	migrate [-dsn DSN] [-steps N] up|down|status
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/storage/postgres"
)

const envPostgresDSN = "MARKETPLACE_POSTGRES_DSN"

// schema: часть postgres.Store, которой пользуется CLI.
type schema interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (int64, int, error)
}

var openSchema = func(ctx context.Context, dsn string) (schema, func() error, error) {
	store, err := postgres.Open(ctx, dsn, postgres.WithMaxConns(2))
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

type options struct {
	command string
	steps   int
	dsn     string
	timeout time.Duration
}

func parseOptions(args []string, getenv func(string) string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprintln(fs.Output(), "usage: migrate [flags] up|down|status")
		fs.PrintDefaults()
	}

	var opts options
	direction := fs.String("direction", "", "deprecated alias for the positional command")
	fs.IntVar(&opts.steps, "steps", 0, "up: how many to apply (0 = all); down: how many to roll back (default 1)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (default $"+envPostgresDSN+")")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch fs.NArg() {
	case 0:
		opts.command = *direction
	case 1:
		opts.command = fs.Arg(0)
	default:
		return options{}, fmt.Errorf("expected one command, got %q", fs.Args())
	}
	opts.command = strings.ToLower(strings.TrimSpace(opts.command))
	if opts.command == "" {
		opts.command = "up"
	}

	if opts.dsn = strings.TrimSpace(opts.dsn); opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	}
	if opts.steps < 0 {
		return options{}, errors.New("steps must be >= 0")
	}
	return opts, nil
}

// apply выполняет команду и печатает состояние схемы после неё.
func apply(ctx context.Context, s schema, command string, steps int, out io.Writer) error {
	var label string
	switch command {
	case "up":
		if err := s.MigrateUp(ctx, steps); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		label = "migrate up ok"
	case "down":
		if err := s.MigrateDown(ctx, max(steps, 1)); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		label = "migrate down ok"
	case "status":
		label = "migration status"
	default:
		return fmt.Errorf("unsupported command %q (use up|down|status)", command)
	}

	version, applied, err := s.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s: version=%d applied=%d\n", label, version, applied)
	return err
}

func run(args []string, getenv func(string) string, stdout, stderr io.Writer) error {
	opts, err := parseOptions(args, getenv, stderr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	s, closeFn, err := openSchema(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer func() { _ = closeFn() }()

	return apply(ctx, s, opts.command, opts.steps, stdout)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	err := run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr)
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
	default:
		log.WithError(err).Error("migrate failed")
		os.Exit(1)
	}
}
