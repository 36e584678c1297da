package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/errors"
)

// Migrator copies sessions one at a time so that media blobs of only one
// session are held in memory.
type Migrator struct {
	source  datastore.Interface
	target  datastore.Interface
	verbose bool
	out     io.Writer
}

// Stats summarizes an export run.
type Stats struct {
	Sessions int
	Items    int
	Skipped  int
	Duration time.Duration
	// IDs lists every session present in the source.
	IDs []string
}

// NewMigrator creates a migrator between two opened stores.
func NewMigrator(source, target datastore.Interface, verbose bool, out io.Writer) *Migrator {
	return &Migrator{source: source, target: target, verbose: verbose, out: out}
}

// Run copies every source session that the target does not have yet.
func (m *Migrator) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()
	list, err := m.source.Fetch(ctx, datastore.Filter{SkipBlobs: true})
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for i := range list {
		id := list[i].ID
		stats.IDs = append(stats.IDs, id)

		if _, err := m.target.FetchByID(ctx, id); err == nil {
			stats.Skipped++
			continue
		} else if !errors.IsNotFound(err) {
			return stats, err
		}

		s, err := m.source.FetchByID(ctx, id)
		if err != nil {
			return stats, err
		}
		if err := m.target.Insert(ctx, s); err != nil {
			return stats, fmt.Errorf("session %s: %w", id, err)
		}
		stats.Sessions++
		stats.Items += len(s.Items)
		if m.verbose {
			fmt.Fprintf(m.out, "copied %s (%d items)\n", id, len(s.Items))
		}
	}
	stats.Duration = time.Since(start)
	return stats, nil
}

// Print writes the summary.
func (s *Stats) Print(w io.Writer) {
	fmt.Fprintln(w, "--- Export Summary ---")
	fmt.Fprintf(w, "Sessions copied: %d\n", s.Sessions)
	fmt.Fprintf(w, "Items copied:    %d\n", s.Items)
	fmt.Fprintf(w, "Already present: %d\n", s.Skipped)
	fmt.Fprintf(w, "Duration:        %s\n", s.Duration.Round(time.Millisecond))
}
