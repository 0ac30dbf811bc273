package server

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/linechat/pkg/database"
)

func setupStatusServer(t *testing.T) *Server {
	t.Helper()

	tmpDir := t.TempDir()
	db, err := database.Open(tmpDir + "/status.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv := &Server{
		db:        db,
		config:    DefaultConfig(),
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
		conns:     make(map[uint64]*Session),
	}
	srv.registry = NewRegistry(&srv.chatMu)

	admins, err := NewAdminStore(tmpDir+"/admins.txt", &srv.chatMu)
	require.NoError(t, err)
	srv.admins = admins

	return srv
}

func TestStatusCounts(t *testing.T) {
	srv := setupStatusServer(t)

	_, err := srv.db.RegisterUser("Alice", "alice", "pw")
	require.NoError(t, err)
	_, err = srv.db.RegisterUser("Bob", "bob", "pw")
	require.NoError(t, err)

	handle, _ := newTestHandle()
	srv.registry.Attach(testUser(1, "alice", "Alice"), handle)

	assert.Equal(t, 1, srv.OnlineCount())
	total, err := srv.TotalCount()
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	assert.Equal(t, []string{"Alice (alice)"}, srv.OnlineList())

	all, err := srv.AllUsersList()
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice (alice)", "Bob (bob)"}, all)
}

func TestStatusAdminEntryPoints(t *testing.T) {
	srv := setupStatusServer(t)

	assert.Equal(t, []string{"admin", "moder"}, srv.AdminList())
	assert.True(t, srv.AddAdmin("root", "pw"))
	assert.True(t, srv.ChangeAdminPassword("root", "pw2"))
	assert.True(t, srv.RemoveAdmin("root"))
	assert.False(t, srv.RemoveAdmin("root"))
}

func TestStatusHandlerJSON(t *testing.T) {
	srv := setupStatusServer(t)

	_, err := srv.db.RegisterUser("Alice", "alice", "pw")
	require.NoError(t, err)
	handle, _ := newTestHandle()
	srv.registry.Attach(testUser(1, "alice", "Alice"), handle)

	rec := httptest.NewRecorder()
	srv.StatusHandler(rec, httptest.NewRequest("GET", "/status", nil))

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.OnlineCount)
	assert.Equal(t, 1, resp.TotalCount)
	assert.Equal(t, []string{"Alice (alice)"}, resp.OnlineUsers)
	assert.Equal(t, []string{"admin", "moder"}, resp.Admins)
}

func TestHealthHandler(t *testing.T) {
	srv := setupStatusServer(t)

	rec := httptest.NewRecorder()
	srv.HealthHandler(rec, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())
}
