package watcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreSet_DefaultPatterns(t *testing.T) {
	set, err := LoadIgnoreSet(filepath.Join(t.TempDir(), "missing-syncignore"))
	require.NoError(t, err)

	assert.True(t, set.Match(".git/HEAD", false))
	assert.True(t, set.Match(".git", true))
	assert.True(t, set.Match(".DS_Store", false))
	assert.True(t, set.Match("notes.txt.tmp", false))
	assert.True(t, set.Match("src/.syncagent/state.db", false))
	assert.False(t, set.Match("src/notes.txt", false))
}

func TestIgnoreSet_UserRulesFromSyncignore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".syncignore")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nbuild/\n*.log\nsecrets.txt\n"), 0o644))

	set, err := LoadIgnoreSet(path)
	require.NoError(t, err)

	assert.True(t, set.Match("build", true))
	assert.False(t, set.Match("build", false), "dir-only pattern must not match a plain file named build")
	assert.True(t, set.Match("debug.log", false))
	assert.True(t, set.Match("nested/debug.log", false))
	assert.True(t, set.Match("secrets.txt", false))
	assert.False(t, set.Match("not-secret.txt", false))
}

func TestIgnoreSet_DoubleStarMatchesAnyDepth(t *testing.T) {
	set := &IgnoreSet{}
	set.add("vendor/**")

	assert.True(t, set.Match("vendor/foo/bar.go", false))
	assert.True(t, set.Match("vendor", true))
	assert.True(t, set.Match("src/vendor/bar.go", false), "a rootless pattern matches at any depth, like .gitignore")
	assert.False(t, set.Match("src/vendor2/bar.go", false))
}
