package chunker

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitter_DeterministicBoundaries(t *testing.T) {
	data := make([]byte, 20<<20) // 20 MiB
	_, err := rand.Read(data)
	require.NoError(t, err)

	split := func() []ChunkDescriptor {
		s := NewSplitter(bytes.NewReader(data), DefaultChunkOptions())
		var out []ChunkDescriptor
		for {
			_, desc, err := s.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			out = append(out, desc)
		}
		return out
	}

	first := split()
	second := split()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Hash, second[i].Hash, "chunk %d boundary mismatch", i)
		assert.Equal(t, first[i].Offset, second[i].Offset)
	}
}

func TestSplitter_RespectsMinAndMax(t *testing.T) {
	data := make([]byte, 8<<20)
	_, err := rand.Read(data)
	require.NoError(t, err)

	opts := ChunkOptions{MinSize: 1 << 20, AvgSize: 4 << 20, MaxSize: 16 << 20}
	s := NewSplitter(bytes.NewReader(data), opts)

	var total, prevLen int
	for i := 0; ; i++ {
		_, desc, err := s.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if i > 0 {
			// Only the final chunk may fall short of MinSize.
			assert.GreaterOrEqual(t, prevLen, opts.MinSize)
		}
		assert.LessOrEqual(t, desc.Length, opts.MaxSize)
		total += desc.Length
		prevLen = desc.Length
	}
	assert.Equal(t, len(data), total)
}

func TestSplitter_EmptyInputYieldsOneChunk(t *testing.T) {
	s := NewSplitter(bytes.NewReader(nil), DefaultChunkOptions())
	_, desc, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, desc.Length)

	_, _, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestComputeMerkleRoot_Deterministic(t *testing.T) {
	hashes := []string{
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc",
	}
	root1, err := ComputeMerkleRoot(hashes)
	require.NoError(t, err)
	root2, err := ComputeMerkleRoot(hashes)
	require.NoError(t, err)
	assert.Equal(t, root1, root2)
	assert.NotEmpty(t, root1)

	emptyRoot, err := ComputeMerkleRoot(nil)
	require.NoError(t, err)
	assert.Empty(t, emptyRoot)
}
