package correlate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "correlation.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func record(key, account, chat string, at time.Time) Record {
	return Record{Key: key, AccountID: account, ChatID: chat, ChatName: chat, LastActivityAt: at}
}

func TestPutGet(t *testing.T) {
	s, _ := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	s.Put("42", record("42", "wa-1", "Mom", now))

	rec, err := s.Get("42")
	require.NoError(t, err)
	assert.Equal(t, "wa-1", rec.AccountID)
	assert.Equal(t, "Mom", rec.ChatID)

	_, err = s.Get("999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutOverwritesReusedKey(t *testing.T) {
	s, _ := openTestStore(t)

	now := time.Now().UTC()
	s.Put("7", record("7", "wa-1", "Mom", now))
	s.Put("7", record("7", "wa-2", "Dad", now))

	rec, err := s.Get("7")
	require.NoError(t, err)
	assert.Equal(t, "wa-2", rec.AccountID)
	assert.Equal(t, 1, s.Len())
}

func TestTouchExtendsRetention(t *testing.T) {
	s, _ := openTestStore(t)

	old := time.Now().Add(-2 * time.Hour)
	s.Put("1", record("1", "wa-1", "Mom", old))
	s.Put("2", record("2", "wa-1", "Dad", old))
	s.Touch("1", time.Now())
	s.Touch("missing", time.Now()) // no-op

	evicted := s.EvictOlderThan(time.Hour)
	assert.Equal(t, 1, evicted)

	_, err := s.Get("1")
	assert.NoError(t, err)
	_, err = s.Get("2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrimToCountEvictsOldest(t *testing.T) {
	s, _ := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, key := range []string{"a", "b", "c", "d"} {
		s.Put(key, record(key, "wa-1", key, base.Add(time.Duration(i)*time.Minute)))
	}

	assert.Equal(t, 2, s.TrimToCount(2))
	assert.Equal(t, 2, s.Len())

	_, err := s.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("d")
	assert.NoError(t, err)

	assert.Equal(t, 0, s.TrimToCount(0), "zero max is unbounded")
}

func TestFlushReloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "correlation.db")
	s, err := Open(path)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	s.Put("42", record("42", "wa-1", "Mom", now))
	s.Put("43", record("43", "wa-2", "Dad", now))
	s.Put("44", record("44", "wa-1", "Sis", now))
	require.NoError(t, s.Flush(context.Background()))

	// Evict one after the flush, then close (which flushes the delete).
	s.Put("44", record("44", "wa-1", "Sis", now.Add(-48*time.Hour)))
	s.EvictOlderThan(24 * time.Hour)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	for _, key := range []string{"42", "43"} {
		want, wantErr := s.Get(key)
		got, gotErr := reopened.Get(key)
		require.NoError(t, wantErr)
		require.NoError(t, gotErr)
		assert.Equal(t, want.AccountID, got.AccountID)
		assert.Equal(t, want.ChatID, got.ChatID)
		assert.True(t, want.LastActivityAt.Equal(got.LastActivityAt))
	}
	_, err = reopened.Get("44")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFlushIsIdempotentWhenClean(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.Flush(context.Background()))
	require.NoError(t, s.Flush(context.Background()))
}
