package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_AllowsUpToBurstThenBlocks(t *testing.T) {
	r := NewRegistry(1, 2)
	assert.True(t, r.Allow("tok-a"))
	assert.True(t, r.Allow("tok-a"))
	assert.False(t, r.Allow("tok-a"))
}

func TestRegistry_TokensAreIndependent(t *testing.T) {
	r := NewRegistry(1, 1)
	assert.True(t, r.Allow("tok-a"))
	assert.True(t, r.Allow("tok-b"), "a different token must have its own bucket")
}

func TestRegistry_SweepRemovesIdleLimiters(t *testing.T) {
	r := NewRegistry(1, 1)
	r.Allow("tok-a")
	removed := r.Sweep(-time.Second) // cutoff in the future relative to lastUsed
	assert.Equal(t, 1, removed)
}
