// Command shogun-ops is the primary CLI for Shogun Ops: the Check-in
// Producer, Collector, Supervisor, Approval pipeline, and refactor-draft
// adapters, each as a cobra subcommand sharing one exit-code contract
// (spec.md §6.1, §7).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ToaruPen/shogun-ops/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:           "shogun-ops",
	Short:         "Filesystem-coordinated multi-agent ops core",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ui.Fail(colorEnabled(), fmt.Sprintf("shogun-ops: %v", err)))
		os.Exit(exitCodeFor(err))
	}
}

// exitCode lets a subcommand attach a specific exit code to an error while
// still returning it through cobra's normal RunE path.
type exitCode struct {
	code int
	err  error
}

func (e *exitCode) Error() string { return e.err.Error() }
func (e *exitCode) Unwrap() error { return e.err }

func withExit(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitCode{code: code, err: err}
}

func exitCodeFor(err error) int {
	var ec *exitCode
	for e := err; e != nil; e = unwrapOnce(e) {
		if v, ok := e.(*exitCode); ok {
			ec = v
			break
		}
	}
	if ec != nil {
		return ec.code
	}
	return 1
}

func unwrapOnce(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return u.Unwrap()
	}
	return nil
}

// nextAction appends the mandatory "Next action" suffix to a user-visible
// error (spec.md §7).
func nextAction(err error, suggestion string) error {
	return fmt.Errorf("%w — next: %s", err, suggestion)
}
