package cryptutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenChunk_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	plaintext := []byte("hello, world")
	blob, err := SealChunk(key, []byte("aad"), plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, blob)

	got, err := OpenChunk(key, []byte("aad"), blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestSealChunk_NonceIsRandomPerCall(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	a, err := SealChunk(key, nil, []byte("same plaintext"))
	require.NoError(t, err)
	b, err := SealChunk(key, nil, []byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "identical plaintext must not encrypt to identical ciphertext")
}

func TestOpenChunk_TamperedTagFails(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	blob, err := SealChunk(key, nil, []byte("payload"))
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF

	_, err = OpenChunk(key, nil, blob)
	assert.ErrorIs(t, err, ErrDecryptError)
}

func TestOpenChunk_ShortBlobIsFormatError(t *testing.T) {
	_, err := OpenChunk(make([]byte, KeySize), nil, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrChunkFormatError)
}

func TestOpenChunk_WrongKeyFailsAuthentication(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()

	blob, err := SealChunk(key1, nil, []byte("secret"))
	require.NoError(t, err)

	_, err = OpenChunk(key2, nil, blob)
	assert.ErrorIs(t, err, ErrDecryptError)
}
