// Command cdmctl administers a CDM database and its OpenAPI document.
//
// Usage:
//
//	cdmctl create-schema
//	cdmctl seed-db
//	cdmctl clear-db
//	cdmctl check
//	cdmctl relocate-schema FILE RESOURCE
//
// Database commands read the same CDM_DB_* environment as cdm-api.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opencdms/cdm-feature-service/internal/config"
	"github.com/opencdms/cdm-feature-service/internal/observability"
	"github.com/opencdms/cdm-feature-service/internal/storage"
)

const usage = `usage: cdmctl <command> [args]

commands:
  create-schema              create every CDM table if missing
  seed-db                    create tables and insert the sample fixture
  clear-db                   drop every CDM table
  check                      report orphaned foreign key references
  relocate-schema FILE RES   hoist item schema definitions to the document root
`

// dbCommand runs against an open store and returns the exit code.
type dbCommand func(ctx context.Context, s storage.Store, out io.Writer) int

var dbCommands = map[string]dbCommand{
	"create-schema": createSchema,
	"seed-db":       seedDB,
	"clear-db":      clearDB,
	"check":         check,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	name, rest := args[0], args[1:]
	if name == "relocate-schema" {
		if len(rest) != 2 {
			fmt.Fprint(stderr, usage)
			return 2
		}
		return relocateSchema(rest[0], rest[1], stdout, stderr)
	}

	cmd, ok := dbCommands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", name, usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	logger := observability.NewLogger(cfg)

	s, _, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "driver", cfg.DBDriver, "error", err)
		return 1
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("storage close error", "error", err)
		}
	}()
	return cmd(ctx, s, stdout)
}
