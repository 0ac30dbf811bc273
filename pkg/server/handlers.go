package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aeolun/linechat/pkg/database"
)

// errClientQuit signals a graceful disconnect requested by the client.
var errClientQuit = errors.New("client quit")

// newLineScanner wraps the connection in a line scanner with a hard cap on
// line length. A client exceeding the cap is disconnected (bufio.ErrTooLong).
func newLineScanner(r io.Reader, maxLine int) *bufio.Scanner {
	if maxLine <= 0 {
		maxLine = 1024
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256), maxLine)
	return scanner
}

// splitToken splits off the first whitespace-delimited token. Leading
// whitespace is skipped; exactly one delimiter after the token is consumed so
// message bodies keep their interior spacing.
func splitToken(s string) (token, rest string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

// dbError logs a storage failure and sends the operation's error line to the
// client. The session continues.
func (s *Server) dbError(sess *Session, operation, response string, err error) error {
	errorLog.Printf("Session %d: %s failed: %v", sess.ID, operation, err)
	return sess.Conn.Send(response)
}

// dispatch routes one input line based on the session's current menu level.
func (s *Server) dispatch(sess *Session, line string) error {
	switch sess.State {
	case StateUser:
		return s.dispatchUser(sess, line)
	case StateAdmin:
		return s.dispatchAdmin(sess, line)
	default:
		return s.dispatchAnonymous(sess, line)
	}
}

func (s *Server) dispatchAnonymous(sess *Session, line string) error {
	action, rest := splitToken(line)

	switch action {
	case "1":
		s.metrics.RecordCommand("anonymous", "register")
		fields := strings.Fields(rest)
		if len(fields) < 3 {
			return sess.Conn.Send("Registration failed: invalid format")
		}
		return s.handleRegister(sess, fields[0], fields[1], fields[2])
	case "2":
		s.metrics.RecordCommand("anonymous", "login")
		fields := strings.Fields(rest)
		if len(fields) < 2 {
			return sess.Conn.Send("Login failed: invalid format")
		}
		return s.handleLogin(sess, fields[0], fields[1])
	case "3":
		s.metrics.RecordCommand("anonymous", "list_users")
		return s.sendAllUsers(sess)
	case "4":
		s.metrics.RecordCommand("anonymous", "quit")
		sess.Conn.Send("Goodbye!")
		return errClientQuit
	case "5":
		s.metrics.RecordCommand("anonymous", "admin_login")
		fields := strings.Fields(rest)
		if len(fields) < 2 {
			return sess.Conn.Send("Admin login: invalid format")
		}
		return s.handleAdminLogin(sess, fields[0], fields[1])
	default:
		s.metrics.RecordCommand("anonymous", "unknown")
		return sess.Conn.Send("Unknown command: " + action)
	}
}

func (s *Server) dispatchUser(sess *Session, line string) error {
	action, rest := splitToken(line)

	switch action {
	case "1":
		s.metrics.RecordCommand("user", "private_send")
		recipient, body := splitToken(rest)
		if recipient == "" {
			return sess.Conn.Send("Please specify recipient")
		}
		if body == "" {
			return sess.Conn.Send("Invalid message format")
		}
		return s.handlePrivateSend(sess, recipient, body)
	case "2":
		s.metrics.RecordCommand("user", "public_send")
		if rest == "" {
			return sess.Conn.Send("Message cannot be empty")
		}
		return s.handlePublicSend(sess, rest)
	case "3":
		s.metrics.RecordCommand("user", "private_history")
		return s.sendPrivateHistory(sess)
	case "4":
		s.metrics.RecordCommand("user", "public_history")
		return s.sendPublicHistory(sess)
	case "5":
		s.metrics.RecordCommand("user", "logout")
		err := sess.Conn.Send("You closed user session")
		s.registry.Detach(sess.Conn)
		sess.reset()
		return err
	case "6":
		s.metrics.RecordCommand("user", "list_users")
		return s.sendAllUsers(sess)
	default:
		s.metrics.RecordCommand("user", "unknown")
		return sess.Conn.Send("Unknown user command: " + action)
	}
}

func (s *Server) dispatchAdmin(sess *Session, line string) error {
	action, rest := splitToken(line)

	switch action {
	case "1", "3":
		s.metrics.RecordCommand("admin", "list_users")
		return s.sendAllUsers(sess)
	case "4":
		s.metrics.RecordCommand("admin", "public_history")
		return s.sendPublicHistory(sess)
	case "admin_2":
		s.metrics.RecordCommand("admin", "list_online")
		return s.sendOnlineUsers(sess)
	case "admin_3":
		s.metrics.RecordCommand("admin", "ban")
		fields := strings.Fields(rest)
		if len(fields) < 1 {
			return sess.Conn.Send("Please provide a login to ban")
		}
		return s.handleBan(sess, fields[0])
	case "admin_4":
		s.metrics.RecordCommand("admin", "unban")
		fields := strings.Fields(rest)
		if len(fields) < 1 {
			return sess.Conn.Send("Please provide a login to unban")
		}
		return s.handleUnban(sess, fields[0])
	case "admin_5":
		s.metrics.RecordCommand("admin", "delete")
		fields := strings.Fields(rest)
		if len(fields) < 1 {
			return sess.Conn.Send("Please provide a login to delete")
		}
		return s.handleDelete(sess, fields[0])
	case "admin_6":
		s.metrics.RecordCommand("admin", "list_banned")
		return s.sendBannedUsers(sess)
	case "5", "7":
		s.metrics.RecordCommand("admin", "exit")
		err := sess.Conn.Send("Exiting admin panel")
		sess.reset()
		return err
	default:
		s.metrics.RecordCommand("admin", "unknown")
		return sess.Conn.Send("Unknown admin command: " + action)
	}
}

func (s *Server) handleRegister(sess *Session, login, password, name string) error {
	if _, err := s.db.RegisterUser(name, login, password); err != nil {
		if !errors.Is(err, database.ErrLoginTaken) {
			errorLog.Printf("Session %d: register failed: %v", sess.ID, err)
		}
		return sess.Conn.Send("Registration failed! Login might already exist.")
	}
	debugLog.Printf("Session %d: registered user %s", sess.ID, login)
	return sess.Conn.Send("User added successfully!")
}

func (s *Server) handleLogin(sess *Session, login, password string) error {
	// Banned accounts are rejected before the password is checked
	banned, err := s.db.IsUserBanned(login)
	if err != nil {
		return s.dbError(sess, "ban check", "Error logging in due to server error", err)
	}
	if banned {
		return sess.Conn.Send("Login failed! Your account has been banned.")
	}

	user, err := s.db.AuthenticateUser(login, password)
	if err != nil {
		if errors.Is(err, database.ErrInvalidCredentials) {
			return sess.Conn.Send("Login failed! Invalid credentials.")
		}
		return s.dbError(sess, "login", "Error logging in due to server error", err)
	}

	// A fresh login supersedes any previous connection for the same login
	s.registry.Attach(user, sess.Conn)
	sess.State = StateUser
	sess.Identity = user

	debugLog.Printf("Session %d: login successful for %s", sess.ID, login)
	return sess.Conn.Send("Login successful!")
}

func (s *Server) handleAdminLogin(sess *Session, login, password string) error {
	if !s.admins.Login(login, password) {
		return sess.Conn.Send("Admin login failed!")
	}

	sess.State = StateAdmin
	sess.AdminLogin = login

	debugLog.Printf("Session %d: admin login successful for %s", sess.ID, login)
	return sess.Conn.Send("Admin login successful!")
}

func (s *Server) handlePrivateSend(sess *Session, recipient, body string) error {
	recipientID, err := s.db.FindUserIDByName(recipient)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return sess.Conn.Send("Recipient not found!")
		}
		return s.dbError(sess, "private send", "Message sending failed due to server error", err)
	}

	sender, ok := s.registry.FindByHandle(sess.Conn)
	if !ok {
		return sess.Conn.Send("Sender not found!")
	}

	if err := s.db.SavePrivateMessage(sender.ID, recipientID, body); err != nil {
		return s.dbError(sess, "private send", "Message sending failed due to server error", err)
	}
	s.metrics.RecordMessage("private")

	if err := sess.Conn.Send("Message sent successfully to " + recipient + "!"); err != nil {
		return err
	}

	// Best-effort push when the recipient is online; history is the fallback
	if target, ok := s.registry.FindByName(recipient); ok && target.Online() {
		target.Handle.Send("New private message from " + sender.Name + ": " + body)
	}
	return nil
}

func (s *Server) handlePublicSend(sess *Session, body string) error {
	sender, ok := s.registry.FindByHandle(sess.Conn)
	if !ok {
		return sess.Conn.Send("Sender not found!")
	}

	if err := s.db.SavePublicMessage(sender.ID, sender.Name, body); err != nil {
		return s.dbError(sess, "public send", "Message sending failed due to server error", err)
	}
	s.metrics.RecordMessage("public")

	// Broadcast to the snapshot of online handles, sender included
	broadcast := "[" + sender.Name + "]: " + body
	for _, handle := range s.registry.OnlineHandles() {
		handle.Send(broadcast)
	}
	return nil
}

func (s *Server) sendPrivateHistory(sess *Session) error {
	entry, ok := s.registry.FindByHandle(sess.Conn)
	if !ok {
		return sess.Conn.Send("User not found")
	}

	messages, err := s.db.ListPrivateMessagesFor(entry.Login)
	if err != nil {
		return s.dbError(sess, "private history", "Error loading messages from database", err)
	}
	if len(messages) == 0 {
		return sess.Conn.Send("No private messages available.")
	}

	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "From: %s\n", msg.From)
		fmt.Fprintf(&b, "To: %s\n", msg.To)
		fmt.Fprintf(&b, "Message: %s\n", msg.Body)
		b.WriteString("------------------------\n")
	}
	return sess.Conn.Send(b.String())
}

func (s *Server) sendPublicHistory(sess *Session) error {
	messages, err := s.db.ListPublicMessages()
	if err != nil {
		return s.dbError(sess, "public history", "Error loading public messages from database", err)
	}
	if len(messages) == 0 {
		return sess.Conn.Send("No public messages available!")
	}

	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.From, msg.Body)
	}
	return sess.Conn.Send(b.String())
}

func (s *Server) sendAllUsers(sess *Session) error {
	users, err := s.db.ListAllUsers()
	if err != nil {
		return s.dbError(sess, "list users", "Error loading users from database", err)
	}
	if len(users) == 0 {
		return sess.Conn.Send("No users registered!")
	}

	var b strings.Builder
	b.WriteString("All registered users:\n")
	for i, user := range users {
		fmt.Fprintf(&b, "%d - %s (login: %s)\n", i+1, user.Name, user.Login)
	}
	return sess.Conn.Send(b.String())
}

func (s *Server) sendBannedUsers(sess *Session) error {
	users, err := s.db.GetBannedUsers()
	if err != nil {
		return s.dbError(sess, "list banned", "Error loading banned users from database", err)
	}

	var b strings.Builder
	if len(users) == 0 {
		b.WriteString("No banned users!\n")
	} else {
		b.WriteString("Banned users:\n")
		for i, user := range users {
			fmt.Fprintf(&b, "%d - %s (login: %s)\n", i+1, user.Name, user.Login)
		}
	}
	return sess.Conn.Send(b.String())
}

func (s *Server) sendOnlineUsers(sess *Session) error {
	online := s.registry.ListOnline()

	var b strings.Builder
	b.WriteString("Online users:\n")
	for _, entry := range online {
		fmt.Fprintf(&b, " - %s (%s)\n", entry.Name, entry.Login)
	}
	if len(online) == 0 {
		b.WriteString("No users online currently.\n")
	}
	return sess.Conn.Send(b.String())
}

func (s *Server) handleBan(sess *Session, login string) error {
	ok, err := s.db.BanUser(login)
	if err != nil {
		return s.dbError(sess, "ban", "Error banning user due to server error", err)
	}
	if !ok {
		return sess.Conn.Send("Failed to ban user " + login + " (user not found)")
	}

	s.registry.SetBanned(login, true)
	if s.registry.ForceDisconnect(login, "You have been banned from the chat!") {
		s.metrics.RecordForcedDisconnect()
	}
	return sess.Conn.Send("User " + login + " has been banned successfully!")
}

func (s *Server) handleUnban(sess *Session, login string) error {
	ok, err := s.db.UnbanUser(login)
	if err != nil {
		return s.dbError(sess, "unban", "Error unbanning user due to server error", err)
	}
	if !ok {
		return sess.Conn.Send("Failed to unban user " + login + " (user not found)")
	}

	s.registry.SetBanned(login, false)
	return sess.Conn.Send("User " + login + " has been unbanned successfully!")
}

func (s *Server) handleDelete(sess *Session, login string) error {
	ok, err := s.db.DeleteUser(login)
	if err != nil {
		return s.dbError(sess, "delete", "Error deleting user due to server error", err)
	}
	if !ok {
		return sess.Conn.Send("Failed to delete user " + login + " (user not found)")
	}

	if s.registry.ForceDisconnect(login, "Your account has been deleted!") {
		s.metrics.RecordForcedDisconnect()
	}
	s.registry.Remove(login)
	return sess.Conn.Send("User " + login + " has been deleted successfully!")
}
