package main

import (
	"context"
	"fmt"
	"io"

	"github.com/opencdms/cdm-feature-service/internal/seed"
	"github.com/opencdms/cdm-feature-service/internal/storage"
)

func createSchema(ctx context.Context, s storage.Store, out io.Writer) int {
	if err := s.CreateSchema(ctx); err != nil {
		fmt.Fprintf(out, "FATAL: create schema: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, "Schema created.")
	return 0
}

func seedDB(ctx context.Context, s storage.Store, out io.Writer) int {
	fmt.Fprintln(out, "Generating sample data....")
	if err := s.CreateSchema(ctx); err != nil {
		fmt.Fprintf(out, "FATAL: create schema: %v\n", err)
		return 1
	}
	fx, err := seed.Up(ctx, s)
	if err != nil {
		fmt.Fprintf(out, "FATAL: seed: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Successfully inserted %d observations into DB\n", len(fx.Observations))
	return 0
}

func clearDB(ctx context.Context, s storage.Store, out io.Writer) int {
	fmt.Fprintln(out, "Dropping database ...")
	if err := s.DropSchema(ctx); err != nil {
		fmt.Fprintf(out, "FATAL: drop schema: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, "Successfully cleared database")
	return 0
}

// phase collects the orphan findings for one relation.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

// check reports orphaned references per relation. Orphans are listed, never
// repaired.
func check(ctx context.Context, s storage.Store, out io.Writer) int {
	counts, err := s.Orphans(ctx)
	if err != nil {
		fmt.Fprintf(out, "FATAL: orphan check: %v\n", err)
		return 1
	}

	fmt.Fprintln(out, "=== CDM Referential Integrity ===")
	if len(counts) == 0 {
		fmt.Fprintln(out, "\nNo orphaned references.")
		return 0
	}

	var phases []*phase
	byTable := map[string]*phase{}
	for _, c := range counts {
		p, ok := byTable[c.Table]
		if !ok {
			p = &phase{name: c.Table}
			byTable[c.Table] = p
			phases = append(phases, p)
		}
		p.errorf("%d rows with %s not in %s", c.Count, c.Column, c.Target)
	}

	fmt.Fprintln(out)
	for _, p := range phases {
		fmt.Fprintf(out, "  %-42s FAIL (%d errors)\n", p.name, len(p.errors))
	}
	for _, p := range phases {
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}
	fmt.Fprintln(out, "\nCheck FAILED.")
	return 1
}
