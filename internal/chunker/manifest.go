package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Manifest describes how a file was split into chunks, its plaintext
// content hash, and (optionally) a merkle root over the chunk hashes used
// as a cheap whole-manifest integrity cross-check.
type Manifest struct {
	FileName    string            `json:"file_name"`
	FileSize    int64             `json:"file_size"`
	ContentHash string            `json:"content_hash"` // hex SHA-256 over the whole plaintext
	HashAlgo    string            `json:"hash_algo"`
	Chunks      []ChunkDescriptor `json:"chunks"`
	MerkleRoot  string            `json:"merkle_root"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ChunkHashes returns the ordered list of hex chunk hashes, the form the
// metadata store and REST API exchange (spec §3 "Chunk record").
func (m *Manifest) ChunkHashes() []string {
	hashes := make([]string, len(m.Chunks))
	for i, c := range m.Chunks {
		hashes[i] = c.Hash
	}
	return hashes
}

// ComputeManifest chunks filePath per opts and returns its manifest. The
// content hash is computed independently over the full plaintext stream
// (not by concatenating chunk hashes) so that it matches spec §4.1's
// "SHA-256 over the full plaintext" definition exactly.
func ComputeManifest(filePath string, opts ChunkOptions) (*Manifest, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("chunker: failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("chunker: failed to stat file: %w", err)
	}

	contentHasher := sha256.New()
	tee := io.TeeReader(file, contentHasher)

	splitter := NewSplitter(tee, opts)
	var chunks []ChunkDescriptor
	for i := 0; ; i++ {
		data, desc, err := splitter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("chunker: failed to read chunk %d: %w", i, err)
		}
		_ = data // chunk bytes are re-derivable from the file; manifest only needs the descriptor
		desc.Index = i
		chunks = append(chunks, desc)
	}

	root, err := ComputeMerkleRoot(hashesOf(chunks))
	if err != nil {
		return nil, fmt.Errorf("chunker: failed to compute merkle root: %w", err)
	}

	return &Manifest{
		FileName:    filepath.Base(filePath),
		FileSize:    info.Size(),
		ContentHash: hex.EncodeToString(contentHasher.Sum(nil)),
		HashAlgo:    "SHA-256",
		Chunks:      chunks,
		MerkleRoot:  root,
		CreatedAt:   time.Now(),
	}, nil
}

// HashFile returns the hex SHA-256 content hash of a file without chunking
// it, used by the conflict-resolution protocol's "false conflict" check
// (§4.13) where only the content hash is needed.
func HashFile(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("chunker: failed to open file: %w", err)
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("chunker: failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashesOf(chunks []ChunkDescriptor) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Hash
	}
	return out
}
