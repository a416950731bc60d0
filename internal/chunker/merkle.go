package chunker

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// ComputeMerkleRoot builds a Merkle tree bottom-up over the hex-encoded
// chunk hashes and returns the hex-encoded root. It is an optional
// whole-manifest integrity cross-check alongside the file's content_hash;
// the BLAKE3 combine step is a teacher-grounded choice (the chunk hashes
// themselves remain SHA-256 per spec §4.1). The root is computed as part of
// ComputeManifest, which runs on upload; scans do not compute it.
func ComputeMerkleRoot(chunkHashes []string) (string, error) {
	if len(chunkHashes) == 0 {
		return "", nil
	}

	hashes := make([][]byte, len(chunkHashes))
	for i, hashStr := range chunkHashes {
		decoded, err := hex.DecodeString(hashStr)
		if err != nil {
			return "", fmt.Errorf("chunker: invalid chunk hash %q: %w", hashStr, err)
		}
		hashes[i] = decoded
	}

	for len(hashes) > 1 {
		var nextLevel [][]byte
		for i := 0; i < len(hashes); i += 2 {
			var combined []byte
			if i+1 < len(hashes) {
				combined = append(append([]byte{}, hashes[i]...), hashes[i+1]...)
			} else {
				combined = append(append([]byte{}, hashes[i]...), hashes[i]...)
			}
			hasher := blake3.New()
			hasher.Write(combined)
			nextLevel = append(nextLevel, hasher.Sum(nil))
		}
		hashes = nextLevel
	}

	return hex.EncodeToString(hashes[0]), nil
}
