package presence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/coordinator/internal/presence"
	"github.com/relaychat/coordinator/internal/wire"
)

type fakeSender struct {
	sent []wire.Frame
}

func (f *fakeSender) SendFrame(frame wire.Frame) error {
	f.sent = append(f.sent, frame)
	return nil
}

func TestBindLookupNotify(t *testing.T) {
	r := presence.New()
	conn := &fakeSender{}

	_, ok := r.Lookup("alice")
	assert.False(t, ok)

	r.Bind("alice", conn)
	found, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, conn, found)

	notified := r.Notify("alice", wire.Success("hi"))
	assert.True(t, notified)
	require.Len(t, conn.sent, 1)

	notified = r.Notify("bob", wire.Success("hi"))
	assert.False(t, notified)
}

func TestBindDisplacesPriorConnection(t *testing.T) {
	r := presence.New()
	first := &fakeSender{}
	second := &fakeSender{}

	r.Bind("alice", first)
	r.Bind("alice", second)

	found, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, found)
}

func TestUnbindIgnoresStaleConnection(t *testing.T) {
	r := presence.New()
	first := &fakeSender{}
	second := &fakeSender{}

	r.Bind("alice", first)
	r.Bind("alice", second)

	// A stale Unbind from the displaced first connection must not evict
	// the fresher second login.
	r.Unbind("alice", first)
	found, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, found)

	r.Unbind("alice", second)
	_, ok = r.Lookup("alice")
	assert.False(t, ok)
}
