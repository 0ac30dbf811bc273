package server

import (
	"sort"
	"sync"

	"github.com/aeolun/linechat/pkg/database"
)

// UserEntry is a registry record: the cached identity of a user plus their
// live connection handle. A nil handle is the offline sentinel.
type UserEntry struct {
	ID     int64
	Login  string
	Name   string
	Banned bool
	Handle *SafeConn
}

// Online reports whether the entry currently has a live connection.
func (e UserEntry) Online() bool {
	return e.Handle != nil
}

// Registry is the shared table of known users and their live connection
// handles. Every operation holds the single chat-state lock for its full
// duration; entries are never read or written outside it. The lock is shared
// with the AdminStore (one coarse lock for all chat state).
type Registry struct {
	mu    *sync.Mutex
	users map[string]*UserEntry // keyed by login
}

// NewRegistry creates a registry guarded by the given chat-state lock.
func NewRegistry(mu *sync.Mutex) *Registry {
	return &Registry{
		mu:    mu,
		users: make(map[string]*UserEntry),
	}
}

// Attach caches the user (find-or-create, one entry per login) and records
// the connection as its live handle. A handle left over from an earlier
// connection for the same login is superseded: it is closed so its session
// loop unwinds promptly, and its later detach finds nothing to do.
func (r *Registry) Attach(user *database.User, conn *SafeConn) UserEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users[user.Login]
	if !ok {
		entry = &UserEntry{
			ID:    user.ID,
			Login: user.Login,
			Name:  user.Name,
		}
		r.users[user.Login] = entry
	}

	if entry.Handle != nil && entry.Handle != conn {
		entry.Handle.Close()
	}

	entry.ID = user.ID
	entry.Name = user.Name
	entry.Banned = user.Banned
	entry.Handle = conn
	return *entry
}

// Detach resets the entry owning this handle to the offline sentinel.
// No-op when no entry owns it (already detached, superseded, or never
// attached).
func (r *Registry) Detach(conn *SafeConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.users {
		if entry.Handle == conn {
			entry.Handle = nil
			return
		}
	}
}

// FindByLogin returns a snapshot of the entry for the login.
func (r *Registry) FindByLogin(login string) (UserEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users[login]
	if !ok {
		return UserEntry{}, false
	}
	return *entry, true
}

// FindByName returns a snapshot of the entry with the given display name.
func (r *Registry) FindByName(name string) (UserEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.users {
		if entry.Name == name {
			return *entry, true
		}
	}
	return UserEntry{}, false
}

// FindByHandle returns a snapshot of the entry owning this connection.
func (r *Registry) FindByHandle(conn *SafeConn) (UserEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.users {
		if entry.Handle == conn {
			return *entry, true
		}
	}
	return UserEntry{}, false
}

// ListOnline returns a snapshot of every entry with a live handle, sorted by
// name.
func (r *Registry) ListOnline() []UserEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var online []UserEntry
	for _, entry := range r.users {
		if entry.Handle != nil {
			online = append(online, *entry)
		}
	}
	sortEntries(online)
	return online
}

// ListAll returns a snapshot of every cached entry, sorted by name.
func (r *Registry) ListAll() []UserEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]UserEntry, 0, len(r.users))
	for _, entry := range r.users {
		all = append(all, *entry)
	}
	sortEntries(all)
	return all
}

// OnlineHandles returns the broadcast snapshot: every live handle at this
// instant. Connections that attach after the snapshot are not included.
func (r *Registry) OnlineHandles() []*SafeConn {
	r.mu.Lock()
	defer r.mu.Unlock()

	var handles []*SafeConn
	for _, entry := range r.users {
		if entry.Handle != nil {
			handles = append(handles, entry.Handle)
		}
	}
	return handles
}

// CountOnline returns the number of entries with a live handle.
func (r *Registry) CountOnline() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, entry := range r.users {
		if entry.Handle != nil {
			count++
		}
	}
	return count
}

// Remove drops the cached entry for the login (account deletion).
func (r *Registry) Remove(login string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, login)
}

// SetBanned updates the cached ban flag for the login, if cached.
func (r *Registry) SetBanned(login string, banned bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.users[login]; ok {
		entry.Banned = banned
	}
}

// ForceDisconnect sends the notice to the login's live connection, closes it,
// and resets the entry to the offline sentinel, all as one operation under
// the lock. Returns false when the login is not currently online. Used
// exclusively by moderation.
func (r *Registry) ForceDisconnect(login, notice string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users[login]
	if !ok || entry.Handle == nil {
		return false
	}

	entry.Handle.Send(notice)
	entry.Handle.Close()
	entry.Handle = nil
	return true
}

// DisconnectAll force-closes every live handle. The blocked reads in the
// session loops fail and unwind; their detach calls then find the sentinel
// already set. Used by server shutdown.
func (r *Registry) DisconnectAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.users {
		if entry.Handle != nil {
			entry.Handle.Close()
			entry.Handle = nil
		}
	}
}

func sortEntries(entries []UserEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}
