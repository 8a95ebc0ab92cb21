// Package validation composes Check-in field validators the way the
// teacher's internal/validation package composes issue validators: small
// named predicates chained into one pass/fail pipeline, each responsible
// for exactly one invariant from spec.md §3.
package validation

import (
	"fmt"

	"github.com/ToaruPen/shogun-ops/internal/fsutil"
	"github.com/ToaruPen/shogun-ops/internal/types"
)

// CheckinValidator validates one field of a check-in and returns an error
// describing the first violation found.
type CheckinValidator func(c *types.Checkin) error

// Chain composes validators into a single validator; the first error stops
// the chain, matching the teacher's Chain() combinator.
func Chain(validators ...CheckinValidator) CheckinValidator {
	return func(c *types.Checkin) error {
		for _, v := range validators {
			if err := v(c); err != nil {
				return err
			}
		}
		return nil
	}
}

// ValidPhase rejects any phase outside the fixed enumeration.
func ValidPhase() CheckinValidator {
	return func(c *types.Checkin) error {
		if !types.ValidPhases[types.Phase(c.Phase)] {
			return fmt.Errorf("invalid phase %q: must be one of backlog|estimating|implementing|reviewing|blocked|done", c.Phase)
		}
		return nil
	}
}

// ValidProgress rejects any progress_percent outside [0, 100].
func ValidProgress() CheckinValidator {
	return func(c *types.Checkin) error {
		if c.ProgressPercent < 0 || c.ProgressPercent > 100 {
			return fmt.Errorf("invalid progress_percent %d: must be between 0 and 100", c.ProgressPercent)
		}
		return nil
	}
}

// ValidWorker rejects a worker id that fails the safety regex.
func ValidWorker() CheckinValidator {
	return func(c *types.Checkin) error {
		if !fsutil.ValidWorkerID(c.Worker) {
			return fmt.Errorf("invalid worker id %q: must match ^[A-Za-z0-9._-]{1,64}$", c.Worker)
		}
		return nil
	}
}

// ValidTimestamp rejects a timestamp that is not YYYYMMDDThhmmssZ.
func ValidTimestamp() CheckinValidator {
	return func(c *types.Checkin) error {
		if !fsutil.ValidTimestamp(c.Timestamp) {
			return fmt.Errorf("invalid timestamp %q: must match YYYYMMDDThhmmssZ", c.Timestamp)
		}
		return nil
	}
}

// ValidIssue rejects a non-positive issue number.
func ValidIssue() CheckinValidator {
	return func(c *types.Checkin) error {
		if c.Issue <= 0 {
			return fmt.Errorf("invalid issue %d: must be a positive integer", c.Issue)
		}
		return nil
	}
}

// ValidSummary rejects an empty or multi-line summary.
func ValidSummary() CheckinValidator {
	return func(c *types.Checkin) error {
		if c.Summary == "" {
			return fmt.Errorf("summary must not be empty")
		}
		for _, r := range c.Summary {
			if r == '\n' {
				return fmt.Errorf("summary must be a single line")
			}
		}
		return nil
	}
}

// ValidTestResult rejects a tests.result outside the fixed enumeration,
// when one was supplied.
func ValidTestResult() CheckinValidator {
	return func(c *types.Checkin) error {
		if c.Tests.Result == "" {
			return nil
		}
		if !types.ValidTestResults[types.TestResult(c.Tests.Result)] {
			return fmt.Errorf("invalid tests.result %q: must be one of pass|fail|skip|not run", c.Tests.Result)
		}
		return nil
	}
}

// ValidChangedFiles rejects any changes.files_changed entry that is not a
// safe repo-relative path.
func ValidChangedFiles() CheckinValidator {
	return func(c *types.Checkin) error {
		for _, f := range c.Changes.FilesChanged {
			if !fsutil.ValidRepoRelativePath(f) {
				return fmt.Errorf("invalid files_changed entry %q: must be a repo-relative path with no leading / or .. components", f)
			}
		}
		return nil
	}
}

// ValidRequestedFiles rejects any needs.contract_expansion.requested_files
// entry that is not a safe repo-relative path.
func ValidRequestedFiles() CheckinValidator {
	return func(c *types.Checkin) error {
		for _, f := range c.Needs.ContractExpansion.RequestedFiles {
			if !fsutil.ValidRepoRelativePath(f) {
				return fmt.Errorf("invalid requested_files entry %q: must be a repo-relative path with no leading / or .. components", f)
			}
		}
		return nil
	}
}

// Full is every validator the Check-in Producer and the Collector's
// per-check-in validation pass (spec.md §4.C step 2) must run.
func Full() CheckinValidator {
	return Chain(
		ValidIssue(),
		ValidPhase(),
		ValidProgress(),
		ValidWorker(),
		ValidTimestamp(),
		ValidSummary(),
		ValidTestResult(),
		ValidChangedFiles(),
		ValidRequestedFiles(),
	)
}
