package metadatastore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func registerTestMachine(t *testing.T, s *Store, name string) *Machine {
	t.Helper()
	require.NoError(t, s.CreateInvitation("invite-"+name, time.Hour))
	m, err := s.RegisterMachine(name, "linux", "invite-"+name, "token-"+name)
	require.NoError(t, err)
	return m
}

func TestRegisterMachine_ConsumesInvitationOnce(t *testing.T) {
	s := newTestStore(t)
	registerTestMachine(t, s, "laptop")

	_, err := s.RegisterMachine("laptop2", "linux", "invite-laptop", "token-other")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRegisterMachine_DuplicateNameFails(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateInvitation("invite-a", time.Hour))
	require.NoError(t, s.CreateInvitation("invite-b", time.Hour))

	_, err := s.RegisterMachine("dup", "linux", "invite-a", "token-a")
	require.NoError(t, err)

	_, err = s.RegisterMachine("dup", "linux", "invite-b", "token-b")
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestValidateToken_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	m := registerTestMachine(t, s, "phone")

	tok, machine, err := s.ValidateToken("token-phone")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, m.ID, machine.ID)
	assert.NotNil(t, machine.LastSeen)
}

func TestValidateToken_UnknownTokenReturnsNilWithoutError(t *testing.T) {
	s := newTestStore(t)
	tok, machine, err := s.ValidateToken("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, tok)
	assert.Nil(t, machine)
}

func TestCreateFile_ThenPathExistsOnDuplicate(t *testing.T) {
	s := newTestStore(t)
	m := registerTestMachine(t, s, "desktop")

	f, err := s.CreateFile("docs/a.txt", 100, "hash1", []string{"c1", "c2"}, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Version)

	_, err = s.CreateFile("docs/a.txt", 50, "hash2", []string{"c3"}, m.ID)
	assert.ErrorIs(t, err, ErrPathExists)
}

func TestUpdateFile_VersionConflict(t *testing.T) {
	s := newTestStore(t)
	m := registerTestMachine(t, s, "desktop")

	_, err := s.CreateFile("a.txt", 100, "hash1", []string{"c1"}, m.ID)
	require.NoError(t, err)

	_, err = s.UpdateFile("a.txt", 200, "hash2", 1, []string{"c1", "c2"}, m.ID)
	require.NoError(t, err)

	_, err = s.UpdateFile("a.txt", 300, "hash3", 1, []string{"c3"}, m.ID)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestDeleteThenCreateAtSamePath(t *testing.T) {
	s := newTestStore(t)
	m := registerTestMachine(t, s, "desktop")

	_, err := s.CreateFile("a.txt", 100, "hash1", []string{"c1"}, m.ID)
	require.NoError(t, err)
	require.NoError(t, s.DeleteFile("a.txt", m.ID))

	_, err = s.GetFile("a.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)

	f2, err := s.CreateFile("a.txt", 5, "hash2", []string{"c2"}, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f2.Version, "recreate at trashed path starts a new logical file at version 1")
}

func TestRestoreFile_BumpsVersionAndClearsDeletedAt(t *testing.T) {
	s := newTestStore(t)
	m := registerTestMachine(t, s, "desktop")

	_, err := s.CreateFile("a.txt", 100, "hash1", []string{"c1"}, m.ID)
	require.NoError(t, err)
	require.NoError(t, s.DeleteFile("a.txt", m.ID))

	f, err := s.RestoreFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, f.Version)
	assert.Nil(t, f.DeletedAt)
}

func TestGetChanges_ReturnsEntriesInOrderWithCursor(t *testing.T) {
	s := newTestStore(t)
	m := registerTestMachine(t, s, "desktop")

	_, err := s.CreateFile("a.txt", 1, "h1", []string{"c1"}, m.ID)
	require.NoError(t, err)
	_, err = s.CreateFile("b.txt", 1, "h2", []string{"c2"}, m.ID)
	require.NoError(t, err)

	entries, hasMore, _, err := s.GetChanges(time.Time{}, 10)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].FilePath)
	assert.Equal(t, "b.txt", entries[1].FilePath)
}

func TestGetChanges_HasMoreWhenLimitExceeded(t *testing.T) {
	s := newTestStore(t)
	m := registerTestMachine(t, s, "desktop")

	for _, p := range []string{"a.txt", "b.txt", "c.txt"} {
		_, err := s.CreateFile(p, 1, "h", []string{"c"}, m.ID)
		require.NoError(t, err)
	}

	entries, hasMore, _, err := s.GetChanges(time.Time{}, 2)
	require.NoError(t, err)
	assert.True(t, hasMore)
	assert.Len(t, entries, 2)
}

func TestPurgeTrash_RemovesOldDeletedFiles(t *testing.T) {
	s := newTestStore(t)
	m := registerTestMachine(t, s, "desktop")

	_, err := s.CreateFile("a.txt", 1, "h", []string{"c"}, m.ID)
	require.NoError(t, err)
	require.NoError(t, s.DeleteFile("a.txt", m.ID))

	n, err := s.PurgeTrash(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnsureServerMachine_IsIdempotentAndHidden(t *testing.T) {
	s := newTestStore(t)
	m1, err := s.EnsureServerMachine()
	require.NoError(t, err)
	m2, err := s.EnsureServerMachine()
	require.NoError(t, err)
	assert.Equal(t, m1.ID, m2.ID)
	assert.True(t, m2.Hidden)

	machines, err := s.ListMachines()
	require.NoError(t, err)
	for _, m := range machines {
		assert.NotEqual(t, ReservedMachineName, m.Name, "reserved machine must not appear in listings")
	}
}
