package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidWorkerID(t *testing.T) {
	assert.True(t, ValidWorkerID("worker-a1"))
	assert.True(t, ValidWorkerID("Worker.1_2"))
	assert.False(t, ValidWorkerID(""))
	assert.False(t, ValidWorkerID("worker/../etc"))
	assert.False(t, ValidWorkerID(string(make([]byte, 65))))
}

func TestValidTimestamp(t *testing.T) {
	assert.True(t, ValidTimestamp("20260129T121501Z"))
	assert.False(t, ValidTimestamp("2026-01-29T12:15:01Z"))
	assert.False(t, ValidTimestamp("20260129T1215Z"))
}

func TestValidRepoRelativePath(t *testing.T) {
	assert.True(t, ValidRepoRelativePath("src/main.go"))
	assert.False(t, ValidRepoRelativePath(""))
	assert.False(t, ValidRepoRelativePath("/etc/passwd"))
	assert.False(t, ValidRepoRelativePath("../escape"))
	assert.False(t, ValidRepoRelativePath("a//b"))
}

func TestSafeJoinRejectsTraversal(t *testing.T) {
	root := t.TempDir()

	p, err := SafeJoin(root, "queue", "checkins")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "queue", "checkins"), p)

	_, err = SafeJoin(root, "..", "etc")
	assert.Error(t, err)

	_, err = SafeJoin(root, "a/b")
	assert.Error(t, err)

	_, err = SafeJoin(root, "..")
	assert.Error(t, err)
}

func TestAtomicWriteFileReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")

	require.NoError(t, AtomicWriteFile(path, []byte("first"), 0644))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0644))
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover .tmp- files after a successful write")
}

func TestCreateExclusiveRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkin.yaml")

	require.NoError(t, CreateExclusive(path, []byte("a"), 0644))
	err := CreateExclusive(path, []byte("b"), 0644)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a", string(got), "failed second write must not clobber the original")
}

func TestCollisionSuffixPath(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "decision.yaml")

	first, err := CollisionSuffixPath(base)
	require.NoError(t, err)
	assert.Equal(t, base, first)

	require.NoError(t, os.WriteFile(base, []byte("x"), 0644))
	second, err := CollisionSuffixPath(base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "decision-001.yaml"), second)

	require.NoError(t, os.WriteFile(second, []byte("x"), 0644))
	third, err := CollisionSuffixPath(base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "decision-002.yaml"), third)
}

func TestMoveToArchive(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	src := filepath.Join(srcDir, "checkin.yaml")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	dst, err := MoveToArchive(src, dstDir, "checkin.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dstDir, "checkin.yaml"), dst)
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source must be gone after archiving")
}

func TestMatchGlob(t *testing.T) {
	assert.True(t, MatchGlob("internal/*.go", "internal/fsutil.go"))
	assert.False(t, MatchGlob("internal/*.go", "internal/sub/fsutil.go"), "* must not cross a path segment")
	assert.True(t, MatchGlob("internal/*/*.go", "internal/sub/fsutil.go"))
	assert.False(t, MatchGlob("internal/*.go", "cmd/fsutil.go"))
}

func TestMatchAnyGlob(t *testing.T) {
	patterns := []string{"docs/*.md", "internal/*.go"}
	assert.True(t, MatchAnyGlob(patterns, "docs/readme.md"))
	assert.True(t, MatchAnyGlob(patterns, "internal/foo.go"))
	assert.False(t, MatchAnyGlob(patterns, "cmd/main.go"))
}
