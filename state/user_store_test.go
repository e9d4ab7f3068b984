package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Artemchik-Development/node-icq-server/wire"
)

func testStore(t *testing.T) *SQLiteUserStore {
	t.Helper()
	store, err := NewSQLiteUserStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteUserStore_UserCRUD(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	u := User{UIN: "100500", Password: "hunter2", Nickname: "Alice", Email: "alice@example.com"}
	require.NoError(t, store.InsertUser(ctx, u))
	assert.ErrorIs(t, store.InsertUser(ctx, u), ErrDupUser)

	got, err := store.User(ctx, "100500")
	require.NoError(t, err)
	assert.Equal(t, u, got)

	_, err = store.User(ctx, "100501")
	assert.ErrorIs(t, err, ErrNoUser)

	require.NoError(t, store.DeleteUser(ctx, "100500"))
	assert.ErrorIs(t, store.DeleteUser(ctx, "100500"), ErrNoUser)
}

func TestSQLiteUserStore_Search(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	users := []User{
		{UIN: "100500", Password: "x", Nickname: "CoolAlice", FirstName: "Alice", LastName: "Smith", Email: "alice@example.com"},
		{UIN: "100501", Password: "x", Nickname: "bob", FirstName: "Bob", LastName: "Smith", Email: "bob@example.com"},
	}
	for _, u := range users {
		require.NoError(t, store.InsertUser(ctx, u))
	}

	t.Run("by UIN exact", func(t *testing.T) {
		got, err := store.FindByUIN(ctx, "100500")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "CoolAlice", got[0].Nickname)

		got, err = store.FindByUIN(ctx, "999999")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("by details substring case-insensitive", func(t *testing.T) {
		got, err := store.FindByDetails(ctx, "alice", "", "", "")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "100500", got[0].UIN)

		got, err = store.FindByDetails(ctx, "", "", "SMITH", "")
		require.NoError(t, err)
		assert.Len(t, got, 2)

		// criteria combine with AND
		got, err = store.FindByDetails(ctx, "bob", "", "smith", "")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "100501", got[0].UIN)
	})

	t.Run("by details all empty", func(t *testing.T) {
		got, err := store.FindByDetails(ctx, "", "", "", "")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("by email", func(t *testing.T) {
		got, err := store.FindByDetails(ctx, "", "", "", "BOB@")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "100501", got[0].UIN)
	})
}

func TestSQLiteUserStore_Feedbag(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	group := wire.FeedbagItem{Name: "Friends", GroupID: 1, ItemID: 0, ClassID: wire.FeedbagClassIDGroup}
	buddy := wire.FeedbagItem{Name: "100501", GroupID: 1, ItemID: 2, ClassID: wire.FeedbagClassIDBuddy}
	require.NoError(t, store.FeedbagUpsert(ctx, "100500", group))
	require.NoError(t, store.FeedbagUpsert(ctx, "100500", buddy))

	items, err := store.Feedbag(ctx, "100500")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	// replace keeps the key, updates the payload
	buddy.Name = "100502"
	require.NoError(t, store.FeedbagUpsert(ctx, "100500", buddy))
	items, err = store.Feedbag(ctx, "100500")
	require.NoError(t, err)
	require.Len(t, items, 2)

	names, err := store.BuddyNames(ctx, "100500")
	require.NoError(t, err)
	assert.Equal(t, []string{"100502"}, names)

	watchers, err := store.BuddyWatchers(ctx, "100502")
	require.NoError(t, err)
	assert.Equal(t, []string{"100500"}, watchers)

	require.NoError(t, store.FeedbagDelete(ctx, "100500", buddy))
	names, err = store.BuddyNames(ctx, "100500")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSQLiteUserStore_OfflineMessages(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	msgs := []OfflineMessage{
		{Sender: "100501", Recipient: "100500", Message: "first", Sent: base},
		{Sender: "100502", Recipient: "100500", Message: "second", Sent: base.Add(time.Second)},
		{Sender: "100501", Recipient: "999999", Message: "other recipient", Sent: base},
	}
	for _, msg := range msgs {
		require.NoError(t, store.StoreOfflineMessage(ctx, msg))
	}

	got, err := store.DrainOfflineMessages(ctx, "100500")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Message)
	assert.Equal(t, "second", got[1].Message)
	assert.Equal(t, "100501", got[0].Sender)

	// a second drain is empty
	got, err = store.DrainOfflineMessages(ctx, "100500")
	require.NoError(t, err)
	assert.Empty(t, got)

	// other recipients are untouched
	got, err = store.DrainOfflineMessages(ctx, "999999")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
