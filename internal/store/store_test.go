package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/coordinator/internal/store"
)

func openTemp(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCreateUserRejectsDuplicate(t *testing.T) {
	s := openTemp(t)

	created, err := s.CreateUser("alice", []byte("hash"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateUser("alice", []byte("other-hash"))
	require.NoError(t, err)
	assert.False(t, created)
}

func TestGetUserRoundTrip(t *testing.T) {
	s := openTemp(t)
	_, err := s.CreateUser("bob", []byte("hash"))
	require.NoError(t, err)

	user, ok := s.GetUser("bob")
	require.True(t, ok)
	assert.Equal(t, "bob", user.UserName)
	assert.Equal(t, 5, user.ViewCount)
	assert.Nil(t, user.LogOffTime)

	_, ok = s.GetUser("nobody")
	assert.False(t, ok)
}

func TestUpdateViewCountAndLogOff(t *testing.T) {
	s := openTemp(t)
	_, err := s.CreateUser("carol", []byte("hash"))
	require.NoError(t, err)

	updated, err := s.UpdateViewCount("carol", 42)
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = s.UpdateViewCount("nobody", 1)
	require.NoError(t, err)
	assert.False(t, updated)

	now := time.Now()
	updated, err = s.SetLogOffTime("carol", now)
	require.NoError(t, err)
	assert.True(t, updated)

	user, _ := s.GetUser("carol")
	assert.Equal(t, 42, user.ViewCount)
	require.NotNil(t, user.LogOffTime)
	assert.WithinDuration(t, now, *user.LogOffTime, time.Second)
}

func TestMessagesForUserBucketsAndSorts(t *testing.T) {
	s := openTemp(t)
	base := time.Now().Add(-time.Hour)

	_, err := s.InsertMessage("alice", "bob", "second", base.Add(2*time.Minute))
	require.NoError(t, err)
	_, err = s.InsertMessage("bob", "alice", "first", base.Add(1*time.Minute))
	require.NoError(t, err)
	_, err = s.InsertMessage("alice", "carol", "unrelated", base)
	require.NoError(t, err)

	buckets := s.MessagesForUser("alice")
	require.Len(t, buckets["bob"], 2)
	assert.Equal(t, "first", buckets["bob"][0].Message)
	assert.Equal(t, "second", buckets["bob"][1].Message)
	assert.Len(t, buckets["carol"], 1)
}

func TestDeleteMessageToleratesOneSecondSkew(t *testing.T) {
	s := openTemp(t)
	at := time.Now()
	_, err := s.InsertMessage("alice", "bob", "hello", at)
	require.NoError(t, err)

	deleted, err := s.DeleteMessage("hello", "alice", "bob", at.Add(900*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, deleted)

	buckets := s.MessagesForUser("alice")
	assert.Empty(t, buckets["bob"])
}

func TestDeleteMessageFallsBackWithoutTimestamp(t *testing.T) {
	s := openTemp(t)
	at := time.Now()
	_, err := s.InsertMessage("alice", "bob", "hello", at)
	require.NoError(t, err)

	// Timestamp far outside the 1s window: the strict match misses, but the
	// lenient retry on message/sender/receiver still finds it.
	deleted, err := s.DeleteMessage("hello", "alice", "bob", at.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestDeleteUserCascadesMessages(t *testing.T) {
	s := openTemp(t)
	_, err := s.CreateUser("alice", []byte("hash"))
	require.NoError(t, err)
	_, err = s.CreateUser("bob", []byte("hash"))
	require.NoError(t, err)
	_, err = s.InsertMessage("alice", "bob", "hi", time.Now())
	require.NoError(t, err)
	_, err = s.InsertMessage("bob", "alice", "hey", time.Now())
	require.NoError(t, err)

	deleted, err := s.DeleteUser("alice")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok := s.GetUser("alice")
	assert.False(t, ok)
	assert.Empty(t, s.MessagesForUser("bob"))
}

func TestOpenReloadsPersistedState(t *testing.T) {
	dir := t.TempDir()
	s1, err := store.Open(dir)
	require.NoError(t, err)
	_, err = s1.CreateUser("dave", []byte("hash"))
	require.NoError(t, err)
	_, err = s1.InsertMessage("dave", "dave", "note to self", time.Now())
	require.NoError(t, err)

	s2, err := store.Open(dir)
	require.NoError(t, err)
	user, ok := s2.GetUser("dave")
	require.True(t, ok)
	assert.Equal(t, "dave", user.UserName)
	assert.Len(t, s2.MessagesForUser("dave")["dave"], 1)
}
