package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/sidechat/internal/protocol"
)

var ts = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(text string, kind protocol.Kind) protocol.Message {
	return protocol.Message{Text: text, Kind: kind, Timestamp: ts}
}

type failingStore struct{ err error }

func (f failingStore) Load(context.Context) ([]protocol.Message, error) { return nil, f.err }
func (f failingStore) Save(context.Context, []protocol.Message) error   { return f.err }

func TestLog_AppendPersistsFullLog(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	log := NewLog(store)

	ok, err := log.Append(ctx, msg("hi", protocol.KindSent))
	require.NoError(t, err)
	require.True(t, ok)
	_, err = log.Append(ctx, msg("hi", protocol.KindReceived))
	require.NoError(t, err)

	saved, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, log.Messages(), saved)
	require.Len(t, saved, 2, "duplicates are kept")
}

func TestLog_SystemNoticesAreNotLogged(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	log := NewLog(store)

	ok, err := log.Append(ctx, msg("Connected to chat server", protocol.KindSystem))
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, log.Len())

	saved, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, saved)
}

func TestLog_ResetEmptiesMemoryAndStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	log := NewLog(store)
	for _, text := range []string{"a", "b", "c"} {
		_, err := log.Append(ctx, msg(text, protocol.KindSent))
		require.NoError(t, err)
	}

	require.NoError(t, log.Reset(ctx))

	require.Zero(t, log.Len())
	saved, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, saved)
}

func TestLog_Restore(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Save(ctx, []protocol.Message{
		msg("one", protocol.KindSent),
		msg("stale notice", protocol.KindSystem),
		msg("two", protocol.KindReceived),
	}))

	log := NewLog(store)
	restored, err := log.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, []protocol.Message{msg("one", protocol.KindSent), msg("two", protocol.KindReceived)}, restored)
	require.Equal(t, restored, log.Messages())
}

func TestLog_StoreErrorsAreWrapped(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	log := NewLog(failingStore{err: boom})

	ok, err := log.Append(ctx, msg("hi", protocol.KindSent))
	require.True(t, ok)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, log.Len(), "in-memory log stays authoritative")

	require.ErrorIs(t, log.Reset(ctx), boom)
	require.Zero(t, log.Len())

	_, err = log.Restore(ctx)
	require.ErrorIs(t, err, boom)
}

func TestSQLite_RoundTripAndOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewSQLite(filepath.Join(t.TempDir(), "history.db"))
	t.Cleanup(func() { _ = store.Close() })

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, empty)

	first := []protocol.Message{msg("hi", protocol.KindSent), {Text: "**yo**", Kind: protocol.KindReceived, IsAutomated: true, Timestamp: ts}}
	require.NoError(t, store.Save(ctx, first))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, first, got)

	require.NoError(t, store.Save(ctx, nil))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSQLite_FallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	store := NewSQLite(filepath.Join(t.TempDir(), "missing", "dir", "history.db"))
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Save(ctx, []protocol.Message{msg("hi", protocol.KindSent)}))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
