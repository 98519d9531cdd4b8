package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/phantomrpc/session"
)

func TestInsertGetDelete(t *testing.T) {
	store := session.NewStore(time.Hour)
	sess := session.New("s1", time.Minute)
	store.Insert(sess)

	got, ok := store.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "s1", got.ID())

	store.Delete("s1")
	_, ok = store.Get("s1")
	assert.False(t, ok)
}

func TestSweepExpiredRemovesOnlyExpired(t *testing.T) {
	store := session.NewStore(time.Hour)

	fresh := session.New("fresh", time.Minute)
	store.Insert(fresh)

	stale := &session.Session{IDField: "stale", CreatedAtField: time.Now().Add(-2 * time.Second).Unix(), LifespanField: time.Second}
	store.Insert(stale)

	store.SweepExpired()

	_, ok := store.Get("fresh")
	assert.True(t, ok, "unexpired session must survive a sweep")

	_, ok = store.Get("stale")
	assert.False(t, ok, "expired session must be removed by a sweep")
}

func TestBackgroundSweepEventuallyEvicts(t *testing.T) {
	store := session.NewStore(20 * time.Millisecond)
	store.Start()
	defer store.Stop()

	stale := &session.Session{IDField: "stale", CreatedAtField: time.Now().Add(-time.Second).Unix(), LifespanField: time.Millisecond}
	store.Insert(stale)

	assert.Eventually(t, func() bool {
		_, ok := store.Get("stale")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestIsExpired(t *testing.T) {
	sess := session.New("s", time.Second)
	assert.False(t, sess.IsExpired())
	time.Sleep(1100 * time.Millisecond)
	assert.True(t, sess.IsExpired())
}
