package cryptutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadKey_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keystore.json")

	key, err := GenerateKey()
	require.NoError(t, err)

	require.NoError(t, SaveKey(key, path, "correct horse battery staple"))

	loaded, keyID, err := LoadKey(path, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, key, loaded)
	assert.NotEmpty(t, keyID)
}

func TestLoadKey_WrongPassphraseFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keystore.json")

	key, err := GenerateKey()
	require.NoError(t, err)
	require.NoError(t, SaveKey(key, path, "right passphrase"))

	_, _, err = LoadKey(path, "wrong passphrase")
	assert.ErrorIs(t, err, ErrInvalidPassphrase)
}

func TestKeyID_SameKeySamePassphraseDifferentSaltDiffersButStable(t *testing.T) {
	dir := t.TempDir()
	key, err := GenerateKey()
	require.NoError(t, err)

	p1 := filepath.Join(dir, "a.json")
	require.NoError(t, SaveKey(key, p1, "pw"))
	_, id1, err := LoadKey(p1, "pw")
	require.NoError(t, err)

	_, id1again, err := LoadKey(p1, "pw")
	require.NoError(t, err)
	assert.Equal(t, id1, id1again, "key id must be stable across loads of the same file")

	p2 := filepath.Join(dir, "b.json")
	require.NoError(t, SaveKey(key, p2, "pw"))
	_, id2, err := LoadKey(p2, "pw")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2, "a second save with a fresh salt must give a different key id")
}
