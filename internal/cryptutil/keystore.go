package cryptutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Time      = 3
	argon2Memory    = 65536 // 64 MiB
	argon2Threads   = 4
	saltSize        = 32
	keystoreVersion = 1
)

// ErrInvalidPassphrase is returned when the passphrase fails to unwrap the keystore.
var ErrInvalidPassphrase = errors.New("invalid passphrase or corrupted keystore")

// KeystoreEntry is the on-disk JSON representation of a wrapped shared key.
type KeystoreEntry struct {
	Version       int    `json:"version"`
	KDF           string `json:"kdf"`
	Argon2Time    int    `json:"argon2_time"`
	Argon2Memory  int    `json:"argon2_memory"`
	Argon2Threads int    `json:"argon2_threads"`
	Salt          []byte `json:"salt"`
	Nonce         []byte `json:"nonce"`
	Ciphertext    []byte `json:"ciphertext"`
}

// KeyID returns a non-secret identifier derived from the wrapped key,
// used to confirm two devices share the same shared key (§6.3).
func (e *KeystoreEntry) KeyID() string {
	h := sha256.Sum256(e.Ciphertext)
	return hex.EncodeToString(h[:])
}

// SaveKey encrypts and writes the shared 32-byte symmetric key to
// keystorePath, wrapped with a key derived from passphrase via Argon2id.
func SaveKey(sharedKey []byte, keystorePath string, passphrase string) error {
	if len(sharedKey) != KeySize {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(sharedKey))
	}
	if err := os.MkdirAll(filepath.Dir(keystorePath), 0700); err != nil {
		return fmt.Errorf("failed to create keystore directory: %w", err)
	}

	entry, err := wrapKey(sharedKey, passphrase)
	if err != nil {
		return fmt.Errorf("failed to wrap key: %w", err)
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal keystore entry: %w", err)
	}
	if err := os.WriteFile(keystorePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write keystore file: %w", err)
	}
	return nil
}

// LoadKey reads and unwraps the shared symmetric key from keystorePath.
func LoadKey(keystorePath string, passphrase string) ([]byte, string, error) {
	data, err := os.ReadFile(keystorePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read keystore file: %w", err)
	}
	var entry KeystoreEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal keystore entry: %w", err)
	}
	key, err := unwrapKey(&entry, passphrase)
	if err != nil {
		return nil, "", err
	}
	return key, entry.KeyID(), nil
}

func wrapKey(sharedKey []byte, passphrase string) (*KeystoreEntry, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	derivedKey := argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, KeySize)

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext, err := sealRaw(derivedKey, nonce, sharedKey)
	if err != nil {
		return nil, err
	}

	return &KeystoreEntry{
		Version:       keystoreVersion,
		KDF:           "argon2id",
		Argon2Time:    argon2Time,
		Argon2Memory:  argon2Memory,
		Argon2Threads: argon2Threads,
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
	}, nil
}

func unwrapKey(entry *KeystoreEntry, passphrase string) ([]byte, error) {
	if entry.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported keystore version: %d", entry.Version)
	}
	if entry.KDF != "argon2id" {
		return nil, fmt.Errorf("unsupported KDF: %s", entry.KDF)
	}
	derivedKey := argon2.IDKey(
		[]byte(passphrase), entry.Salt,
		uint32(entry.Argon2Time), uint32(entry.Argon2Memory), uint8(entry.Argon2Threads),
		KeySize,
	)
	plaintext, err := openRaw(derivedKey, entry.Nonce, entry.Ciphertext)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	if len(plaintext) != KeySize {
		return nil, errors.New("unwrapped key has invalid size")
	}
	return plaintext, nil
}

// sealRaw/openRaw encrypt the keystore's wrapped key; unlike SealChunk they
// don't prefix a cipher-suite byte because the keystore format is fixed at
// AES-256-GCM and versioned separately via KeystoreEntry.Version.
func sealRaw(key, nonce, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(SuiteAESGCM, key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func openRaw(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(SuiteAESGCM, key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

// GenerateKey creates a new random 32-byte shared symmetric key, used by
// the client's pair command when no -shared-key is given.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// DefaultKeystorePath returns the default keystore file path, following the
// XDG/AppData convention the teacher's keystore used.
func DefaultKeystorePath() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "syncagent", "keystore.json")
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "syncagent", "keystore.json")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "syncagent", "keystore.json")
}
