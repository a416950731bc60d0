package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilePath(t *testing.T) {
	assert.NoError(t, FilePath("docs/a.txt"))
	assert.ErrorIs(t, FilePath(""), ErrInvalidPath)
	assert.ErrorIs(t, FilePath("/abs/path"), ErrInvalidPath)
	assert.ErrorIs(t, FilePath("docs\\a.txt"), ErrInvalidPath)
	assert.ErrorIs(t, FilePath("../escape.txt"), ErrPathTraversal)
	assert.ErrorIs(t, FilePath("docs/../../escape.txt"), ErrPathTraversal)
}

func TestChunkHash(t *testing.T) {
	valid := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	assert.NoError(t, ChunkHash(valid))
	assert.ErrorIs(t, ChunkHash("too-short"), ErrInvalidHash)
	assert.ErrorIs(t, ChunkHash("UPPERCASE0123456789abcdef0123456789abcdef0123456789abcdef0123456"), ErrInvalidHash)
}

func TestListenAddr(t *testing.T) {
	assert.NoError(t, ListenAddr("127.0.0.1:8080"))
	assert.ErrorIs(t, ListenAddr(""), ErrInvalidAddr)
	assert.Error(t, ListenAddr("not-an-addr"))
}

func TestParentVersion(t *testing.T) {
	assert.NoError(t, ParentVersion(1))
	assert.ErrorIs(t, ParentVersion(0), ErrInvalidVersion)
}
