package server

import (
	"github.com/aeolun/linechat/pkg/database"
)

// SessionState is the menu level a session has reached. Command codes are
// reused across levels, so the state alone decides what a line means.
type SessionState int

const (
	// StateAnonymous is the entry state: register, login, admin login.
	StateAnonymous SessionState = iota
	// StateUser is reached after a successful user login.
	StateUser
	// StateAdmin is reached after a successful admin login.
	StateAdmin
)

func (s SessionState) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateUser:
		return "user"
	case StateAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Session is the per-connection runtime state. It is owned exclusively by the
// goroutine running the session loop and must never be stored in any
// process-wide mutable field; the only parts visible to other goroutines are
// the SafeConn (which synchronizes its own writes) and the registry entry the
// session attaches to on login.
type Session struct {
	ID         uint64
	Conn       *SafeConn
	RemoteAddr string

	// State selects the command table consulted for each incoming line.
	State SessionState

	// Identity is the authenticated user, nil while anonymous. It is a
	// snapshot taken at login time; the registry holds the live entry.
	Identity *database.User

	// AdminLogin is the admin account name while State == StateAdmin.
	AdminLogin string
}

// reset drops any authentication and returns the session to the entry state.
func (sess *Session) reset() {
	sess.State = StateAnonymous
	sess.Identity = nil
	sess.AdminLogin = ""
}
