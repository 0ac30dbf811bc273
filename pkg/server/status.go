package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// The methods in this file back the external control panel. They only read
// registry and admin snapshots (or delegate to AdminStore mutations that take
// the chat lock themselves), so they are safe to call under live traffic.

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	select {
	case <-s.shutdown:
		return false
	default:
		return s.listener != nil
	}
}

// OnlineCount returns the number of users with a live connection.
func (s *Server) OnlineCount() int {
	return s.registry.CountOnline()
}

// TotalCount returns the number of registered accounts.
func (s *Server) TotalCount() (int, error) {
	users, err := s.db.ListAllUsers()
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return len(users), nil
}

// OnlineList returns the online users in "Name (login)" form.
func (s *Server) OnlineList() []string {
	entries := s.registry.ListOnline()
	list := make([]string, 0, len(entries))
	for _, entry := range entries {
		list = append(list, fmt.Sprintf("%s (%s)", entry.Name, entry.Login))
	}
	return list
}

// AllUsersList returns every registered account in "Name (login)" form.
func (s *Server) AllUsersList() ([]string, error) {
	users, err := s.db.ListAllUsers()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	list := make([]string, 0, len(users))
	for _, user := range users {
		list = append(list, fmt.Sprintf("%s (%s)", user.Name, user.Login))
	}
	return list, nil
}

// AdminList returns the admin logins, sorted.
func (s *Server) AdminList() []string {
	return s.admins.List()
}

// AddAdmin creates a new admin account.
func (s *Server) AddAdmin(login, password string) bool {
	return s.admins.Add(login, password)
}

// RemoveAdmin deletes an admin account. Refused for the last remaining one.
func (s *Server) RemoveAdmin(login string) bool {
	return s.admins.Remove(login)
}

// ChangeAdminPassword replaces an admin's password.
func (s *Server) ChangeAdminPassword(login, newPassword string) bool {
	return s.admins.ChangePassword(login, newPassword)
}

type statusResponse struct {
	Running       bool     `json:"running"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	OnlineCount   int      `json:"online_count"`
	TotalCount    int      `json:"total_count"`
	OnlineUsers   []string `json:"online_users"`
	Admins        []string `json:"admins"`
}

// StatusHandler serves a JSON summary on the internal HTTP listener.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	total, err := s.TotalCount()
	if err != nil {
		errorLog.Printf("Status: %v", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	resp := statusResponse{
		Running:       s.Running(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		OnlineCount:   s.OnlineCount(),
		TotalCount:    total,
		OnlineUsers:   s.OnlineList(),
		Admins:        s.AdminList(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		errorLog.Printf("Status: encode failed: %v", err)
	}
}
