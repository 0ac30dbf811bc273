package server

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/linechat/pkg/database"
)

// discardConn is a net.Conn stub for registry tests: writes are swallowed,
// reads report EOF, Close is recorded.
type discardConn struct {
	closed atomic.Bool
}

func (c *discardConn) Read(p []byte) (int, error)       { return 0, io.EOF }
func (c *discardConn) Write(p []byte) (int, error)      { return len(p), nil }
func (c *discardConn) Close() error                     { c.closed.Store(true); return nil }
func (c *discardConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (c *discardConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (c *discardConn) SetDeadline(t time.Time) error    { return nil }
func (c *discardConn) SetReadDeadline(time.Time) error  { return nil }
func (c *discardConn) SetWriteDeadline(time.Time) error { return nil }

func newTestHandle() (*SafeConn, *discardConn) {
	raw := &discardConn{}
	return NewSafeConn(raw), raw
}

func testUser(id int64, login, name string) *database.User {
	return &database.User{ID: id, Login: login, Name: name}
}

func newTestRegistry() *Registry {
	return NewRegistry(&sync.Mutex{})
}

func TestRegistryAttachCreatesSingleEntry(t *testing.T) {
	r := newTestRegistry()
	handle, _ := newTestHandle()

	entry := r.Attach(testUser(1, "alice", "Alice"), handle)
	assert.Equal(t, "alice", entry.Login)
	assert.True(t, entry.Online())

	all := r.ListAll()
	require.Len(t, all, 1)
	assert.Equal(t, "Alice", all[0].Name)
}

func TestRegistryReloginSupersedesOldHandle(t *testing.T) {
	r := newTestRegistry()
	first, firstRaw := newTestHandle()
	second, _ := newTestHandle()

	r.Attach(testUser(1, "alice", "Alice"), first)
	r.Attach(testUser(1, "alice", "Alice"), second)

	// Still one entry, now owned by the second connection
	all := r.ListAll()
	require.Len(t, all, 1)
	assert.True(t, firstRaw.closed.Load(), "superseded handle should be closed")

	entry, ok := r.FindByHandle(second)
	require.True(t, ok)
	assert.Equal(t, "alice", entry.Login)

	_, ok = r.FindByHandle(first)
	assert.False(t, ok, "first handle should no longer own the entry")

	// The superseded connection's cleanup path must not knock the fresh
	// login offline
	r.Detach(first)
	entry, ok = r.FindByLogin("alice")
	require.True(t, ok)
	assert.True(t, entry.Online())
}

func TestRegistryDetachSetsOfflineSentinel(t *testing.T) {
	r := newTestRegistry()
	handle, _ := newTestHandle()

	r.Attach(testUser(1, "alice", "Alice"), handle)
	r.Detach(handle)

	entry, ok := r.FindByLogin("alice")
	require.True(t, ok, "entry survives disconnect")
	assert.False(t, entry.Online())
	assert.Equal(t, 0, r.CountOnline())

	// Detaching an unknown handle is a no-op
	stray, _ := newTestHandle()
	r.Detach(stray)
}

func TestRegistryForceDisconnect(t *testing.T) {
	r := newTestRegistry()
	handle, raw := newTestHandle()

	r.Attach(testUser(1, "alice", "Alice"), handle)

	ok := r.ForceDisconnect("alice", "You have been banned from the chat!")
	assert.True(t, ok)
	assert.True(t, raw.closed.Load())

	entry, found := r.FindByLogin("alice")
	require.True(t, found)
	assert.False(t, entry.Online())

	// Offline and unknown targets report false
	assert.False(t, r.ForceDisconnect("alice", "again"))
	assert.False(t, r.ForceDisconnect("nobody", "hello"))
}

func TestRegistryListOnlineSortedByName(t *testing.T) {
	r := newTestRegistry()
	h1, _ := newTestHandle()
	h2, _ := newTestHandle()
	h3, _ := newTestHandle()

	r.Attach(testUser(1, "c", "Carol"), h1)
	r.Attach(testUser(2, "a", "Alice"), h2)
	r.Attach(testUser(3, "b", "Bob"), h3)
	r.Detach(h3)

	online := r.ListOnline()
	require.Len(t, online, 2)
	assert.Equal(t, "Alice", online[0].Name)
	assert.Equal(t, "Carol", online[1].Name)

	assert.Len(t, r.OnlineHandles(), 2)
	assert.Equal(t, 2, r.CountOnline())
}

func TestRegistryRemoveDropsEntry(t *testing.T) {
	r := newTestRegistry()
	handle, _ := newTestHandle()

	r.Attach(testUser(1, "alice", "Alice"), handle)
	r.Remove("alice")

	_, ok := r.FindByLogin("alice")
	assert.False(t, ok)
	assert.Empty(t, r.ListAll())
}

func TestRegistrySetBanned(t *testing.T) {
	r := newTestRegistry()
	handle, _ := newTestHandle()

	r.Attach(testUser(1, "alice", "Alice"), handle)
	r.SetBanned("alice", true)

	entry, ok := r.FindByLogin("alice")
	require.True(t, ok)
	assert.True(t, entry.Banned)

	r.SetBanned("alice", false)
	entry, _ = r.FindByLogin("alice")
	assert.False(t, entry.Banned)

	// Unknown login is a no-op
	r.SetBanned("nobody", true)
}

func TestRegistryDisconnectAll(t *testing.T) {
	r := newTestRegistry()
	h1, raw1 := newTestHandle()
	h2, raw2 := newTestHandle()

	r.Attach(testUser(1, "a", "Alice"), h1)
	r.Attach(testUser(2, "b", "Bob"), h2)

	r.DisconnectAll()

	assert.True(t, raw1.closed.Load())
	assert.True(t, raw2.closed.Load())
	assert.Equal(t, 0, r.CountOnline())
	assert.Len(t, r.ListAll(), 2)
}
