// Package doctor provides health checks for the caravan migration
// infrastructure.
//
// The doctor command validates that the runner can do its job: the store is
// reachable, the ledger is consistent with the registry, and the migration
// lock is in a sane state.
//
// Example usage:
//
//	d := doctor.New(store, registry)
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/voyagecms/caravan/pkg/migrate"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	// Category groups related checks (e.g., "Store", "Ledger", "Lock").
	Category string

	// Name is a short identifier for the check.
	Name string

	// Status is the check outcome.
	Status Status

	// Message is a human-readable description of the result.
	Message string

	// Details provides additional information for verbose output.
	Details string

	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	// Summary counts.
	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Print writes the report to the given writer.
func (r *Report) Print(w io.Writer, verbose bool) {
	// Group checks by category
	categories := make(map[string][]CheckResult)
	var categoryOrder []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			categoryOrder = append(categoryOrder, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	// Print each category
	for _, cat := range categoryOrder {
		_, _ = fmt.Fprintf(w, "\n%s\n", cat)
		for _, check := range categories[cat] {
			_, _ = fmt.Fprintf(w, "  %s %s\n", check.Status.Symbol(), check.Message)
			if verbose && check.Details != "" {
				// Indent details
				for _, line := range strings.Split(check.Details, "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", line)
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      Fix: %s\n", check.FixHint)
			}
		}
	}

	// Print summary
	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

// Store is what the doctor needs from a backend: the ledger plus the
// inspection hooks the store backends expose beyond the runner contracts.
type Store interface {
	migrate.Ledger

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// CurrentLock returns the lock record, or nil when the lock is free.
	CurrentLock(ctx context.Context) (*migrate.LockRecord, error)
}

// Doctor performs health checks on the migration infrastructure.
type Doctor struct {
	store    Store
	registry *migrate.Registry

	// Now supplies the instant used for lease staleness. Defaults to
	// time.Now; injectable for tests.
	Now func() time.Time

	// Cached data from checks (populated during Run)
	applied []migrate.AppliedRecord
}

// New creates a new Doctor instance.
func New(store Store, registry *migrate.Registry) *Doctor {
	return &Doctor{
		store:    store,
		registry: registry,
		Now:      time.Now,
	}
}

// Run executes all health checks and returns a report.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	if !d.checkConnectivity(ctx, report) {
		// Nothing else is checkable without the store.
		return report, nil
	}
	if err := d.checkLedger(ctx, report); err != nil {
		return nil, fmt.Errorf("checking ledger: %w", err)
	}
	d.checkRegistry(report)
	if err := d.checkLock(ctx, report); err != nil {
		return nil, fmt.Errorf("checking lock: %w", err)
	}

	return report, nil
}

// checkConnectivity pings the store. Returns false when unreachable.
func (d *Doctor) checkConnectivity(ctx context.Context, report *Report) bool {
	if err := d.store.Ping(ctx); err != nil {
		report.AddCheck(CheckResult{
			Category: "Store",
			Name:     "reachable",
			Status:   StatusFail,
			Message:  "Store is not reachable",
			Details:  err.Error(),
			FixHint:  "Check database.url in caravan.yaml and network access",
		})
		return false
	}
	report.AddCheck(CheckResult{
		Category: "Store",
		Name:     "reachable",
		Status:   StatusPass,
		Message:  "Store is reachable",
	})
	return true
}

// checkLedger loads the ledger and flags orphaned entries.
func (d *Doctor) checkLedger(ctx context.Context, report *Report) error {
	applied, err := d.store.LoadApplied(ctx)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Ledger",
			Name:     "readable",
			Status:   StatusFail,
			Message:  "Ledger cannot be read",
			Details:  err.Error(),
		})
		return nil
	}
	d.applied = applied

	report.AddCheck(CheckResult{
		Category: "Ledger",
		Name:     "readable",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Ledger readable, %d of %d migrations applied", len(applied), d.registry.Len()),
	})

	var orphans []string
	for _, rec := range applied {
		if _, ok := d.registry.Lookup(rec.Version); !ok {
			orphans = append(orphans, rec.Version)
		}
	}
	if len(orphans) > 0 {
		report.AddCheck(CheckResult{
			Category: "Ledger",
			Name:     "orphans",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d ledger entries have no registry definition", len(orphans)),
			Details:  strings.Join(orphans, "\n"),
			FixHint:  "Restore the missing migration definitions or clean up the ledger manually",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: "Ledger",
			Name:     "orphans",
			Status:   StatusPass,
			Message:  "No orphaned ledger entries",
		})
	}

	return nil
}

// checkRegistry inventories irreversible migrations. Not a failure, but an
// operator planning a rollback wants to know where the hard stops are.
func (d *Doctor) checkRegistry(report *Report) {
	var irreversible []string
	for _, m := range d.registry.List() {
		if !m.Reversible() {
			irreversible = append(irreversible, m.Version)
		}
	}

	if len(irreversible) > 0 {
		report.AddCheck(CheckResult{
			Category: "Registry",
			Name:     "irreversible",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d migrations have no down operation", len(irreversible)),
			Details:  strings.Join(irreversible, "\n"),
		})
	} else {
		report.AddCheck(CheckResult{
			Category: "Registry",
			Name:     "irreversible",
			Status:   StatusPass,
			Message:  "All migrations are reversible",
		})
	}
}

// checkLock reports the lock state: free, held by a live run, or stale.
func (d *Doctor) checkLock(ctx context.Context, report *Report) error {
	rec, err := d.store.CurrentLock(ctx)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Lock",
			Name:     "state",
			Status:   StatusFail,
			Message:  "Lock record cannot be read",
			Details:  err.Error(),
		})
		return nil
	}

	switch {
	case rec == nil:
		report.AddCheck(CheckResult{
			Category: "Lock",
			Name:     "state",
			Status:   StatusPass,
			Message:  "Migration lock is free",
		})
	case rec.Expired(d.Now().UTC()):
		report.AddCheck(CheckResult{
			Category: "Lock",
			Name:     "state",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("Stale migration lock held by %s (lease expired %s)", rec.Holder, rec.LeaseExpiresAt.Format(time.RFC3339)),
			Details:  fmt.Sprintf("acquired %s", rec.AcquiredAt.Format(time.RFC3339)),
			FixHint:  "The next run takes over a stale lease automatically; no action needed unless this repeats",
		})
	default:
		report.AddCheck(CheckResult{
			Category: "Lock",
			Name:     "state",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("Migration lock held by %s (lease expires %s)", rec.Holder, rec.LeaseExpiresAt.Format(time.RFC3339)),
			Details:  "A migration run appears to be in progress",
		})
	}

	return nil
}
