// Package watcher implements the Watcher (spec.md §4.F): re-runs Collect
// whenever queue/checkins/ changes, using whichever file-watch tool is
// actually installed rather than vendoring one, the way the teacher shells
// out to external developer tools instead of reimplementing them.
package watcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ToaruPen/shogun-ops/internal/collector"
	"github.com/ToaruPen/shogun-ops/internal/opsroot"
)

// backoff is the fixed collect-retry schedule from spec.md §4.F step 3,
// capped at 10 attempts.
var backoff = []time.Duration{
	200 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
	5 * time.Second,
	5 * time.Second,
	5 * time.Second,
	5 * time.Second,
}

// Tool is one supported watch backend, in the preference order spec.md
// §4.F names. selfExe is this binary's own path, used by watchexec to
// re-invoke a single collect pass per event instead of shelling out to an
// unrelated command.
type Tool struct {
	Name string
	Args func(watchDir, selfExe string) []string
}

var tools = []Tool{
	{Name: "fswatch", Args: func(dir, selfExe string) []string { return []string{"-r", dir} }},
	{Name: "watchexec", Args: func(dir, selfExe string) []string {
		return []string{"--watch", dir, "--", selfExe, "--run-collect"}
	}},
	{Name: "inotifywait", Args: func(dir, selfExe string) []string {
		return []string{"-m", "-r", "-e", "close_write,create,delete", dir}
	}},
}

// ErrNoToolAvailable is returned when none of fswatch, watchexec, or
// inotifywait are on PATH.
var ErrNoToolAvailable = fmt.Errorf("no file watcher available: install one of fswatch, watchexec, or inotifywait")

// SelectTool returns the first available watch tool on PATH, in
// fswatch > watchexec > inotifywait preference order.
func SelectTool() (Tool, error) {
	for _, t := range tools {
		if _, err := exec.LookPath(t.Name); err == nil {
			return t, nil
		}
	}
	return Tool{}, ErrNoToolAvailable
}

// RetryCollect runs Collect, retrying on lock contention (ErrLockHeld) using
// the fixed backoff schedule, but only while queue/checkins/ still holds at
// least one pending file — the moment the queue drains (another collect got
// there first), it stops retrying immediately rather than spinning through
// the remaining schedule (spec.md §4.F retry policy, §9 "Watcher backoff").
func RetryCollect(opsRoot string, now func() time.Time) (collector.Result, error) {
	var lastErr error
	for attempt := 0; attempt < len(backoff); attempt++ {
		result, err := collector.Collect(opsRoot, now())
		if err == nil {
			return result, nil
		}
		if err != collector.ErrLockHeld {
			return collector.Result{}, err
		}
		lastErr = err
		if !queueHasPending(opsRoot) {
			return collector.Result{Processed: 0}, nil
		}
		if attempt == len(backoff)-1 {
			break
		}
		time.Sleep(backoff[attempt])
	}
	return collector.Result{}, fmt.Errorf("collect still locked after %d attempts: %w", len(backoff), lastErr)
}

// queueHasPending reports whether any worker subdirectory of
// queue/checkins/ still holds a file.
func queueHasPending(opsRoot string) bool {
	dir := opsroot.QueueCheckinsDir(opsRoot)
	workerDirs, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, w := range workerDirs {
		if !w.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(dir, w.Name()))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				return true
			}
		}
	}
	return false
}

// Options configures one Run invocation.
type Options struct {
	OpsRoot  string
	Once     bool
	Now      func() time.Time
	OnResult func(collector.Result)
	OnError  func(error)
}

// Run watches OPS_ROOT's queue/checkins/ directory and triggers a collect
// on every change, forever, until ctx is cancelled. With Once set, it runs
// exactly one retrying collect pass and returns without starting a watch
// tool (shogun-watcher's --once mode). shogun-watcher --run-collect calls
// RetryCollect directly rather than going through Run.
func Run(ctx context.Context, opt Options) error {
	if opt.Now == nil {
		opt.Now = time.Now
	}

	if opt.Once {
		result, err := RetryCollect(opt.OpsRoot, opt.Now)
		if opt.OnError != nil && err != nil {
			opt.OnError(err)
		}
		if opt.OnResult != nil && err == nil {
			opt.OnResult(result)
		}
		return err
	}

	tool, err := SelectTool()
	if err != nil {
		return err
	}

	selfExe, err := os.Executable()
	if err != nil {
		selfExe = os.Args[0]
	}

	watchDir := filepath.Join(opt.OpsRoot, "queue", "checkins")
	cmd := exec.CommandContext(ctx, tool.Name, tool.Args(watchDir, selfExe)...)

	if tool.Name == "watchexec" {
		// watchexec invokes `selfExe --run-collect` itself on every event, so
		// the retry/backoff happens in that child subprocess, not here.
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", tool.Name, err)
		}
		return cmd.Wait()
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attach to %s: %w", tool.Name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", tool.Name, err)
	}

	buf := make([]byte, 4096)
	for {
		n, rerr := stdout.Read(buf)
		if n > 0 {
			result, cerr := RetryCollect(opt.OpsRoot, opt.Now)
			if cerr != nil && opt.OnError != nil {
				opt.OnError(cerr)
			}
			if cerr == nil && opt.OnResult != nil {
				opt.OnResult(result)
			}
		}
		if rerr != nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return ctx.Err()
		default:
		}
	}
	return cmd.Wait()
}

// InstallHint returns the platform-appropriate install suggestion printed
// alongside ErrNoToolAvailable (spec.md §4.F: "fail fast with an install
// hint").
func InstallHint() string {
	switch runtime.GOOS {
	case "darwin":
		return "brew install fswatch"
	default:
		return "apt-get install inotify-tools, or cargo install watchexec-cli"
	}
}
