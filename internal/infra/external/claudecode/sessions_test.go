package claudecode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRegistryRecordAndLookup(t *testing.T) {
	reg, err := NewSessionRegistry(2)
	require.NoError(t, err)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	reg.now = func() time.Time { return fixed }

	reg.Record("feature", "s1")
	entry := reg.Record("feature", "s1")
	assert.Equal(t, SessionEntry{ID: "s1", Turns: 2, UpdatedAt: fixed}, entry)

	entry = reg.Record("feature", "s2")
	assert.Equal(t, 1, entry.Turns)

	got, ok := reg.Lookup("feature")
	require.True(t, ok)
	assert.Equal(t, "s2", got.ID)

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func TestSessionRegistryEvictsLeastRecentlyUsed(t *testing.T) {
	reg, err := NewSessionRegistry(2)
	require.NoError(t, err)

	reg.Record("a", "1")
	reg.Record("b", "2")
	_, _ = reg.Lookup("a")
	reg.Record("c", "3")

	assert.Equal(t, 2, reg.Len())
	_, ok := reg.Lookup("b")
	assert.False(t, ok)
	_, ok = reg.Lookup("c")
	assert.True(t, ok)

	reg.Forget("a")
	_, ok = reg.Lookup("a")
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len())
}

func TestSessionRegistryIgnoresBlankAndNil(t *testing.T) {
	reg, err := NewSessionRegistry(0)
	require.NoError(t, err)
	assert.Equal(t, SessionEntry{}, reg.Record("", "id"))
	assert.Equal(t, SessionEntry{}, reg.Record("label", " "))
	assert.Zero(t, reg.Len())

	var nilReg *SessionRegistry
	_, ok := nilReg.Lookup("x")
	assert.False(t, ok)
	assert.Zero(t, nilReg.Len())
}
