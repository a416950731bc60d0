package audit

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthFailure_WritesJSONEntry(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.logger.SetOutput(&buf)

	l.AuthFailure("10.0.0.1:1234", "/api/files", "token expired")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "auth_failure", entry["audit_event"])
	assert.Equal(t, "token expired", entry["reason"])
}

func TestMachineDeleted_WritesJSONEntry(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.logger.SetOutput(&buf)

	l.MachineDeleted(7, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "machine_deleted", entry["audit_event"])
	assert.Equal(t, float64(7), entry["machine_id"])
}
