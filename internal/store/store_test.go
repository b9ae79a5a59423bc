package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("k", "v", false))
	v, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestSetDeleteGet(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("k", "v", false))
	deleted, err := s.Delete("k", false)
	require.NoError(t, err)
	require.True(t, deleted)

	_, ok := s.Get("k")
	require.False(t, ok)
}

func TestDeleteAbsentIsNoop(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	deleted, err := s.Delete("missing", false)
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestOverwrite(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("k", "v1", false))
	require.NoError(t, s.Set("k", "v2", false))

	v, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "v2", v)
}

func TestGracefulRestartDurability(t *testing.T) {
	dir := t.TempDir()

	s1, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Set("k", "persistent_value", false))
	require.NoError(t, s1.Close())

	s2, err := New(dir)
	require.NoError(t, err)
	defer s2.Close()

	v, ok := s2.Get("k")
	require.True(t, ok)
	require.Equal(t, "persistent_value", v)
}

func TestBulkSet(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	count, err := s.BulkSet([]Item{{"k1", "v1"}, {"k2", "v1"}, {"k3", "v1"}}, false)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	for _, k := range []string{"k1", "k2", "k3"} {
		v, ok := s.Get(k)
		require.True(t, ok)
		require.Equal(t, "v1", v)
	}
}

func TestCheckpointEmptiesWAL(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("k", "v", false))
	require.NoError(t, s.Checkpoint())

	entries, err := s.wal.readAll()
	require.NoError(t, err)
	require.Empty(t, entries)

	v, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
	_ = filepath.Join(dir, "wal.log")
}

// TestCrashRecoveryReplaysTrailingWAL simulates a hard kill: the snapshot is
// stale, but the WAL (written and fsynced before the simulated crash) has
// the rest. A fresh Store over the same directory must reconstruct the
// exact state (I1).
func TestCrashRecoveryReplaysTrailingWAL(t *testing.T) {
	dir := t.TempDir()

	s1, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Set("k1", "v1", false))
	require.NoError(t, s1.Snapshot())
	require.NoError(t, s1.wal.append(walEntry{Op: opSet, Key: "k2", Value: "v2"})) // only in the WAL, no snapshot after
	require.NoError(t, s1.wal.close())                                             // simulate a crash: no graceful Close()

	s2, err := New(dir)
	require.NoError(t, err)
	defer s2.Close()

	v1, ok := s2.Get("k1")
	require.True(t, ok)
	require.Equal(t, "v1", v1)

	v2, ok := s2.Get("k2")
	require.True(t, ok)
	require.Equal(t, "v2", v2)
}
