// Package cryptutil implements the per-chunk authenticated encryption and
// the client keystore used to protect the shared symmetric key.
package cryptutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the length in bytes of the shared symmetric key.
	KeySize = 32
	// NonceSize is the length in bytes of the random per-encryption nonce.
	NonceSize = 12
	// TagSize is the length in bytes of the AEAD authentication tag.
	TagSize = 16
)

// Suite selects the AEAD cipher used to seal a chunk. The blob format is
// suite‖nonce‖ciphertext‖tag so a future suite can be introduced without
// breaking already-uploaded blobs.
type Suite byte

const (
	// SuiteAESGCM is AES-256-GCM, the default suite and the only one the
	// client currently produces.
	SuiteAESGCM Suite = 1
	// SuiteChaCha20Poly1305 is kept registered for a future negotiation
	// path (faster on cores without AES-NI) but is never selected by
	// default.
	SuiteChaCha20Poly1305 Suite = 2
)

var (
	// ErrInvalidKeySize is returned when the provided key is not 32 bytes.
	ErrInvalidKeySize = errors.New("key must be exactly 32 bytes")
	// ErrChunkFormatError is returned when a blob is shorter than
	// suite‖nonce‖tag, per spec §4.1.
	ErrChunkFormatError = errors.New("chunk blob shorter than suite+nonce+tag")
	// ErrDecryptError is returned when AEAD verification fails.
	ErrDecryptError = errors.New("chunk decryption failed: authentication tag mismatch")
	// ErrUnsupportedSuite is returned when a blob names an unknown cipher suite.
	ErrUnsupportedSuite = errors.New("unsupported cipher suite")
)

func newAEAD(suite Suite, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	switch suite {
	case SuiteAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		return cipher.NewGCM(block)
	case SuiteChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, ErrUnsupportedSuite
	}
}

// SealChunk encrypts plaintext under key using the default cipher suite and
// returns an opaque blob: suite‖nonce‖ciphertext‖tag. aad binds context
// (chunk hash, chunk index) into the authentication without encrypting it.
//
// Security warning: nonces are generated fresh for every call and the same
// plaintext MUST NOT be assumed to encrypt to the same blob twice —
// deduplication is done on the plaintext hash, never on the ciphertext.
func SealChunk(key []byte, aad []byte, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(SuiteAESGCM, key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, aad)
	out := make([]byte, 0, 1+len(nonce)+len(ciphertext))
	out = append(out, byte(SuiteAESGCM))
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// OpenChunk decrypts and verifies a blob produced by SealChunk. It returns
// ErrChunkFormatError if blob is too short to contain a suite byte, nonce,
// and tag, and ErrDecryptError if authentication fails.
func OpenChunk(key []byte, aad []byte, blob []byte) ([]byte, error) {
	if len(blob) < 1+NonceSize+TagSize {
		return nil, ErrChunkFormatError
	}
	suite := Suite(blob[0])
	nonce := blob[1 : 1+NonceSize]
	ciphertext := blob[1+NonceSize:]

	aead, err := newAEAD(suite, key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptError, err)
	}
	return plaintext, nil
}
