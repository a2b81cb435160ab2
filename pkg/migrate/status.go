package migrate

import (
	"fmt"
	"io"
	"time"
)

// StatusEntry is the merged view of one registry definition against the
// ledger.
type StatusEntry struct {
	Version     string
	Description string
	Applied     bool
	AppliedAt   *time.Time
}

// Status is the full registry/ledger merge produced by Runner.Status.
type Status struct {
	// Entries follow registry order, one per definition.
	Entries []StatusEntry

	// Orphans are ledger entries with no matching registry definition,
	// sorted ascending by version.
	Orphans []AppliedRecord
}

// PendingCount returns the number of registry entries not yet applied.
func (s *Status) PendingCount() int {
	n := 0
	for _, e := range s.Entries {
		if !e.Applied {
			n++
		}
	}
	return n
}

// Write renders the status for terminal consumption: one line per registry
// entry with an applied/pending marker, then any orphaned ledger entries.
// Pure formatting; Write owns no I/O beyond the given writer.
func (s *Status) Write(w io.Writer) error {
	for _, e := range s.Entries {
		marker := "[ ]"
		suffix := ""
		if e.Applied {
			marker = "[x]"
			if e.AppliedAt != nil {
				suffix = fmt.Sprintf("  (applied %s)", e.AppliedAt.UTC().Format(time.RFC3339))
			}
		}
		if _, err := fmt.Fprintf(w, "%s %s  %s%s\n", marker, e.Version, e.Description, suffix); err != nil {
			return err
		}
	}

	if len(s.Orphans) > 0 {
		if _, err := fmt.Fprintf(w, "\nOrphaned ledger entries (no matching migration):\n"); err != nil {
			return err
		}
		for _, rec := range s.Orphans {
			if _, err := fmt.Fprintf(w, "[?] %s  %s  (applied %s)\n",
				rec.Version, rec.Description, rec.AppliedAt.UTC().Format(time.RFC3339)); err != nil {
				return err
			}
		}
	}

	return nil
}
