// Package fsutil provides the filesystem primitives every Shogun Ops
// component relies on: atomic writes, append-only creates, collision-suffix
// resolution, and the path-safety checks that keep a tampered YAML field
// from ever writing outside OPS_ROOT.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// WorkerIDPattern is the regex every worker id must match (spec.md §3.2).
var WorkerIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// TimestampPattern matches the YYYYMMDDThhmmssZ filename-stem format.
var TimestampPattern = regexp.MustCompile(`^\d{8}T\d{6}Z$`)

// ValidWorkerID reports whether id is a safe worker identifier.
func ValidWorkerID(id string) bool {
	return WorkerIDPattern.MatchString(id)
}

// ValidTimestamp reports whether ts matches the required filename-stem
// format.
func ValidTimestamp(ts string) bool {
	return TimestampPattern.MatchString(ts)
}

// ValidRepoRelativePath rejects leading slashes, empty strings, and any
// ".." path component, per spec.md §3.3.
func ValidRepoRelativePath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." || part == "" {
			return false
		}
	}
	return true
}

// SafeJoin joins root with the path-safety-validated segments and requires
// the result to resolve (via filepath.Abs, since OPS_ROOT paths need not
// exist yet for realpath to apply) within root. It is the path-traversal
// guard required by spec.md §3.3/§4.C step 5 and property P4.
func SafeJoin(root string, segments ...string) (string, error) {
	for _, s := range segments {
		if s == "" || s == "." || s == ".." || strings.Contains(s, "/") || strings.Contains(s, `\`) {
			return "", fmt.Errorf("unsafe path segment %q", s)
		}
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	joined := filepath.Join(append([]string{absRoot}, segments...)...)
	cleanedRoot := filepath.Clean(absRoot)
	if joined != cleanedRoot && !strings.HasPrefix(joined, cleanedRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes root %q", joined, cleanedRoot)
	}
	return joined, nil
}

// AtomicWriteFile writes data to a sibling ".tmp" file and renames it into
// place, so readers never observe a partial write. The rename is within the
// same directory to stay on one filesystem.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// CreateExclusive creates path and writes data, failing if path already
// exists. It is the append-only primitive used by the Check-in Producer and
// refactor-draft command (spec.md §3.3, §4.B step 5, P1): the existence
// check happens first so a second attempt on the same (worker, timestamp)
// tuple fails with no side effect, then the write itself goes to a sibling
// temp file and is renamed into place so a crash mid-write never leaves a
// truncated check-in for the Collector to trip over.
func CreateExclusive(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists (append-only)", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	// Re-check immediately before the rename to narrow the race: two
	// producers racing on the identical (worker, timestamp) tuple is a
	// caller error (spec.md §5 requires the caller to ensure uniqueness),
	// not a case this layer silently resolves.
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists (append-only)", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// CollisionSuffixPath finds the first path of the form <stem>-NNN<ext> (or
// the bare path, if free) that does not already exist, starting the
// numbering at 001. It never returns an existing path, implementing the
// archive collision rule of spec.md §3.1/§4.C step 5/P3.
func CollisionSuffixPath(path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	} else if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for n := 1; n < 1000; n++ {
		candidate := fmt.Sprintf("%s-%03d%s", stem, n, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("exhausted collision suffixes for %s", path)
}

// MoveToArchive moves src to the collision-resolved destination under
// dstDir with dstName, never overwriting an existing archive file.
func MoveToArchive(src, dstDir, dstName string) (string, error) {
	if err := os.MkdirAll(dstDir, 0750); err != nil {
		return "", fmt.Errorf("create archive directory %s: %w", dstDir, err)
	}
	dst, err := CollisionSuffixPath(filepath.Join(dstDir, dstName))
	if err != nil {
		return "", err
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("archive %s: %w", src, err)
	}
	return dst, nil
}

// MatchGlob implements the single-segment "*" wildcard used by
// contract.allowed_files / forbidden_files (spec.md §3.3, P8): "*" matches
// any run of characters within one path segment but never crosses "/".
func MatchGlob(pattern, path string) bool {
	patParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")
	if len(patParts) != len(pathParts) {
		return false
	}
	for i, pp := range patParts {
		ok, err := filepath.Match(pp, pathParts[i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// MatchAnyGlob reports whether path matches any of patterns.
func MatchAnyGlob(patterns []string, path string) bool {
	for _, p := range patterns {
		if MatchGlob(p, path) {
			return true
		}
	}
	return false
}
