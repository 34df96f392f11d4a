package session

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobinc/pnpbridge/provider"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSession(messageID string, ttl time.Duration) provider.DepositSession {
	now := time.Now().UTC()
	return provider.DepositSession{
		MessageID:     messageID,
		Provider:      "trumo",
		Email:         "payer@example.com",
		Currency:      "EUR",
		PartnerID:     "p7",
		RequestOrigin: "https://casino.example",
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := testSession("m1", time.Hour)
	require.NoError(t, store.CreateSession(ctx, session))

	got, err := store.GetSession(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.MessageID)
	assert.Equal(t, "trumo", got.Provider)
	assert.Equal(t, "payer@example.com", got.Email)
	assert.Equal(t, "EUR", got.Currency)
	assert.Equal(t, "p7", got.PartnerID)
	assert.Equal(t, "https://casino.example", got.RequestOrigin)
	assert.Empty(t, got.SuccessLoginURL)
}

func TestSQLiteStore_CreateRequiresMessageID(t *testing.T) {
	store := newTestStore(t)

	err := store.CreateSession(context.Background(), testSession("", time.Hour))
	assert.Error(t, err)
}

func TestSQLiteStore_CreateRejectsDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testSession("m1", time.Hour)
	require.NoError(t, store.CreateSession(ctx, first))

	second := first
	second.Email = "other@example.com"
	second.Currency = "SEK"
	assert.Error(t, store.CreateSession(ctx, second))

	// The original row is untouched.
	got, err := store.GetSession(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "payer@example.com", got.Email)
	assert.Equal(t, "EUR", got.Currency)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSession(context.Background(), "never-created")
	assert.ErrorIs(t, err, provider.ErrSessionNotFound)
}

func TestSQLiteStore_GetExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, testSession("m1", -time.Minute)))

	_, err := store.GetSession(ctx, "m1")
	assert.ErrorIs(t, err, provider.ErrSessionNotFound)
}

func TestSQLiteStore_UpdateSuccessLoginURL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, testSession("m1", time.Hour)))
	require.NoError(t, store.UpdateSuccessLoginURL(ctx, "m1", "https://casino.example/login?token=x"))

	got, err := store.GetSession(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "https://casino.example/login?token=x", got.SuccessLoginURL)
}

func TestSQLiteStore_UpdateMissingSession(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateSuccessLoginURL(context.Background(), "never-created", "https://x/login")
	assert.ErrorIs(t, err, provider.ErrSessionNotFound)
}

func TestSQLiteStore_UpdateExpiredSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, testSession("m1", -time.Minute)))

	err := store.UpdateSuccessLoginURL(ctx, "m1", "https://x/login")
	assert.ErrorIs(t, err, provider.ErrSessionNotFound)
}

func TestSQLiteStore_DeleteSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, testSession("m1", time.Hour)))
	require.NoError(t, store.DeleteSession(ctx, "m1"))

	_, err := store.GetSession(ctx, "m1")
	assert.ErrorIs(t, err, provider.ErrSessionNotFound)

	// Deleting an absent session is not an error.
	assert.NoError(t, store.DeleteSession(ctx, "m1"))
}

func TestSQLiteStore_DeleteExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, testSession("live-1", time.Hour)))
	require.NoError(t, store.CreateSession(ctx, testSession("dead-1", -time.Minute)))
	require.NoError(t, store.CreateSession(ctx, testSession("dead-2", -time.Hour)))

	deleted, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = store.GetSession(ctx, "live-1")
	assert.NoError(t, err)
}

func TestSQLiteStore_GetStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, testSession("live-1", time.Hour)))
	require.NoError(t, store.CreateSession(ctx, testSession("dead-1", -time.Minute)))

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats["total_sessions"])
	assert.Equal(t, 1, stats["live_sessions"])
}

func TestSQLiteStore_ConcurrentWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(n int) {
			session := testSession(fmt.Sprintf("m%d", n), time.Hour)
			done <- store.CreateSession(ctx, session)
		}(i)
	}

	for i := 0; i < 10; i++ {
		assert.NoError(t, <-done)
	}

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 10, stats["total_sessions"])
}

func TestSQLiteStore_ConcurrentDuplicateCreates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			done <- store.CreateSession(ctx, testSession("m1", time.Hour))
		}()
	}

	var failures int
	for i := 0; i < 10; i++ {
		if err := <-done; err != nil {
			failures++
		}
	}
	assert.Equal(t, 9, failures, "exactly one create may win the message id")

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats["total_sessions"])
}
