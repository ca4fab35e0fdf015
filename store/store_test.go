package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	addrA = "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa"
	addrB = "0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb"
)

// tickingClock returns a clock that advances one second per call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func setupStores(t *testing.T) (*WhitelistStore, *ClaimLedger) {
	t.Helper()
	db, err := OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := tickingClock()
	wl := NewWhitelistStore(db.Client(), zerolog.Nop())
	wl.now = clock
	ledger := NewClaimLedger(db.Client(), zerolog.Nop())
	ledger.now = clock
	return wl, ledger
}

func TestDB_OpenModes(t *testing.T) {
	t.Run("in-memory", func(t *testing.T) {
		db, err := OpenInMemoryDB(true)
		require.NoError(t, err)
		require.NotNil(t, db)
		assert.NoError(t, db.Close())
	})

	t.Run("file-based DB", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested")
		db, err := OpenFileDB(dir, "bounty.db", true)
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(dir, "bounty.db"))

		var totals LedgerTotals
		require.NoError(t, db.Client().First(&totals, totalsRowID).Error)
		assert.Equal(t, "0", totals.TotalPaid)
		assert.NoError(t, db.Close())
	})

	t.Run("reopen keeps data", func(t *testing.T) {
		dir := t.TempDir()
		db, err := OpenFileDB(dir, "bounty.db", true)
		require.NoError(t, err)
		wl := NewWhitelistStore(db.Client(), zerolog.Nop())
		_, _, err = wl.Add(context.Background(), addrA, "alice", "")
		require.NoError(t, err)
		require.NoError(t, db.Close())

		db, err = OpenFileDB(dir, "bounty.db", true)
		require.NoError(t, err)
		defer db.Close()
		n, err := NewWhitelistStore(db.Client(), zerolog.Nop()).Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("empty filename fails", func(t *testing.T) {
		db, err := OpenFileDB(t.TempDir(), "", true)
		require.ErrorContains(t, err, "failed to prepare database path")
		require.Nil(t, db)
	})
}

func TestWhitelistStore(t *testing.T) {
	ctx := context.Background()
	wl, _ := setupStores(t)

	entry, added, err := wl.Add(ctx, addrA, "alice", "https://moltbook.example/post/1")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", entry.Address)

	t.Run("add is idempotent", func(t *testing.T) {
		again, added, err := wl.Add(ctx, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "someone-else", "")
		require.NoError(t, err)
		assert.False(t, added)
		assert.Equal(t, "alice", again.Handle)

		n, err := wl.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("lookup is case-insensitive", func(t *testing.T) {
		got, err := wl.Get(ctx, "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
		require.NoError(t, err)
		assert.Equal(t, "https://moltbook.example/post/1", got.Provenance)
	})

	t.Run("invalid address rejected", func(t *testing.T) {
		_, _, err := wl.Add(ctx, "0x1234", "bad", "")
		require.Error(t, err)
	})

	t.Run("list and remove", func(t *testing.T) {
		_, _, err := wl.Add(ctx, addrB, "bob", "")
		require.NoError(t, err)

		entries, err := wl.List(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "alice", entries[0].Handle)

		removed, err := wl.Remove(ctx, addrB)
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = wl.Remove(ctx, addrB)
		require.NoError(t, err)
		assert.False(t, removed)

		_, err = wl.Get(ctx, addrB)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
