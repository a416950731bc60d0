package remotelistener

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DoublesUpToCeiling(t *testing.T) {
	b := NewBackoff(time.Second, 8*time.Second)

	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 8*time.Second, b.Next())
	assert.Equal(t, 8*time.Second, b.Next(), "must not exceed the ceiling")
}

func TestBackoff_ResetReturnsToMinimum(t *testing.T) {
	b := NewBackoff(time.Second, 60*time.Second)
	b.Next()
	b.Next()
	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestWsURLFor_TranslatesScheme(t *testing.T) {
	assert.Equal(t, "wss://example.com/ws/client/tok123", wsURLFor("https://example.com", "tok123"))
	assert.Equal(t, "ws://localhost:8080/ws/client/tok123", wsURLFor("http://localhost:8080/", "tok123"))
}
