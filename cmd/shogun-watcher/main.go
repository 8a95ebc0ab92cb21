// Command shogun-watcher runs the Watcher (spec.md §4.F): re-triggers
// collect whenever queue/checkins/ changes, using whatever file-watch tool
// the host actually has installed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ToaruPen/shogun-ops/internal/collector"
	"github.com/ToaruPen/shogun-ops/internal/config"
	"github.com/ToaruPen/shogun-ops/internal/opsroot"
	"github.com/ToaruPen/shogun-ops/internal/watcher"
)

func nowUTC() time.Time { return time.Now().UTC() }

var flags struct {
	dryRun     bool
	once       bool
	runCollect bool
}

var rootCmd = &cobra.Command{
	Use:           "shogun-watcher [--dry-run] [--once]",
	Short:         "Watch queue/checkins/ and trigger collect on change",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := opsroot.Resolve("")
		if err != nil {
			return err
		}
		if err := opsroot.EnsureSkeleton(root); err != nil {
			return err
		}
		if err := config.WriteDefault(opsroot.ConfigPath(root)); err != nil {
			return err
		}

		if flags.runCollect {
			// The subprocess watchexec re-invokes per event (internal flag,
			// spec.md §4.F): run exactly one retrying collect pass and exit.
			result, err := watcher.RetryCollect(root, nowUTC)
			if err != nil {
				fmt.Fprintf(os.Stderr, "shogun-watcher: collect failed: %v\n", err)
				return err
			}
			fmt.Printf("processed=%d\n", result.Processed)
			return nil
		}

		if flags.dryRun {
			tool, err := watcher.SelectTool()
			if err != nil {
				fmt.Fprintln(os.Stderr, watcher.InstallHint())
				return err
			}
			fmt.Printf("would watch %s/queue/checkins using %s\n", root, tool.Name)
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return watcher.Run(ctx, watcher.Options{
			OpsRoot:  root,
			Once:     flags.once,
			OnResult: func(r collector.Result) {
				fmt.Printf("processed=%d\n", r.Processed)
			},
			OnError: func(err error) {
				fmt.Fprintf(os.Stderr, "shogun-watcher: collect failed: %v\n", err)
			},
		})
	},
}

func main() {
	rootCmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "print the selected watch tool and exit")
	rootCmd.Flags().BoolVar(&flags.once, "once", false, "run exactly one collect pass and exit")
	rootCmd.Flags().BoolVar(&flags.runCollect, "run-collect", false, "internal: run one retrying collect pass, for watchexec's per-event re-invocation")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
