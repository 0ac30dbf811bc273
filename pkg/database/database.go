package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	// ErrUserNotFound indicates no user row matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrLoginTaken indicates the login is already registered.
	ErrLoginTaken = errors.New("login already registered")
	// ErrInvalidCredentials indicates the login/password pair did not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// DB wraps the SQLite database connection. It is the durable store for user
// accounts, ban status, and chat messages; all concurrency control beyond
// SQLite's own locking lives in the caller.
type DB struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection (1 connection)
}

// User represents a registered account as stored in the users table.
type User struct {
	ID        int64
	Name      string
	Login     string
	Banned    bool
	CreatedAt int64 // Unix timestamp in milliseconds
}

// Message is a persisted chat message. To is empty for public messages.
type Message struct {
	ID        int64
	From      string
	To        string
	Body      string
	CreatedAt int64 // Unix timestamp in milliseconds
}

// Open opens a connection to the SQLite database at the given path
// and initializes the schema if needed
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Allow multiple readers in WAL mode
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := applyPragmas(conn); err != nil {
		conn.Close()
		return nil, err
	}

	// Dedicated write connection: exactly 1 connection, no pooling
	// (SQLite permits a single writer at a time)
	writeConn, err := sql.Open("sqlite", path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0) // Never expire

	if err := applyPragmas(writeConn); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, err
	}

	db := &DB{
		conn:      conn,
		writeConn: writeConn,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// applyPragmas configures a connection for concurrent access:
// WAL journaling, a busy timeout instead of immediate SQLITE_BUSY,
// foreign keys on, and relaxed (but durable-enough) sync.
func applyPragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes both database connections
func (db *DB) Close() error {
	if err := db.conn.Close(); err != nil {
		db.writeConn.Close()
		return err
	}
	return db.writeConn.Close()
}

func (db *DB) initSchema() error {
	schema := `
-- User accounts. status is 'active' or 'banned'.
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	login TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS private_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id INTEGER NOT NULL,
	receiver_id INTEGER NOT NULL,
	message_text TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	is_read INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (sender_id) REFERENCES users(id),
	FOREIGN KEY (receiver_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS public_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id INTEGER NOT NULL,
	sender_name TEXT NOT NULL,
	message_text TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (sender_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_private_receiver ON private_messages(receiver_id, created_at);
CREATE INDEX IF NOT EXISTS idx_private_sender ON private_messages(sender_id, created_at);
CREATE INDEX IF NOT EXISTS idx_public_created ON public_messages(created_at);
`

	_, err := db.conn.Exec(schema)
	return err
}

// nowMillis returns current time as Unix timestamp in milliseconds
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// RegisterUser creates a new account. The password is bcrypt-hashed before it
// touches the table. Returns ErrLoginTaken if the login is already registered.
func (db *DB) RegisterUser(name, login, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	result, err := db.writeConn.Exec(`
		INSERT INTO users (name, login, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, name, login, string(hash), nowMillis())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrLoginTaken
		}
		return 0, err
	}

	return result.LastInsertId()
}

// AuthenticateUser verifies the login/password pair and returns the account.
// Returns ErrInvalidCredentials for an unknown login or a wrong password,
// without distinguishing the two.
func (db *DB) AuthenticateUser(login, password string) (*User, error) {
	var (
		user User
		hash string
	)
	err := db.conn.QueryRow(`
		SELECT id, name, login, status, password_hash, created_at
		FROM users
		WHERE login = ?
	`, login).Scan(&user.ID, &user.Name, &user.Login, bannedFlag{&user.Banned}, &hash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &user, nil
}

// IsUserBanned reports whether the login's account is banned. An unknown
// login is not banned.
func (db *DB) IsUserBanned(login string) (bool, error) {
	var status string
	err := db.conn.QueryRow(`SELECT status FROM users WHERE login = ?`, login).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return status == "banned", nil
}

// BanUser marks the account as banned. Returns false if no such login exists.
func (db *DB) BanUser(login string) (bool, error) {
	return db.setStatus(login, "banned")
}

// UnbanUser restores a banned account. Returns false if no such login exists.
func (db *DB) UnbanUser(login string) (bool, error) {
	return db.setStatus(login, "active")
}

func (db *DB) setStatus(login, status string) (bool, error) {
	result, err := db.writeConn.Exec(`UPDATE users SET status = ? WHERE login = ?`, status, login)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteUser removes the account and every message it sent or received.
// Returns false if no such login exists.
func (db *DB) DeleteUser(login string) (bool, error) {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM private_messages
		WHERE sender_id IN (SELECT id FROM users WHERE login = ?)
		   OR receiver_id IN (SELECT id FROM users WHERE login = ?)
	`, login, login); err != nil {
		return false, err
	}

	if _, err := tx.Exec(`
		DELETE FROM public_messages
		WHERE sender_id IN (SELECT id FROM users WHERE login = ?)
	`, login); err != nil {
		return false, err
	}

	result, err := tx.Exec(`DELETE FROM users WHERE login = ?`, login)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetBannedUsers returns all banned accounts, sorted by name.
func (db *DB) GetBannedUsers() ([]*User, error) {
	return db.queryUsers(`
		SELECT id, name, login, status, created_at
		FROM users
		WHERE status = 'banned'
		ORDER BY name
	`)
}

// ListAllUsers returns every registered account, sorted by name.
func (db *DB) ListAllUsers() ([]*User, error) {
	return db.queryUsers(`
		SELECT id, name, login, status, created_at
		FROM users
		ORDER BY name
	`)
}

func (db *DB) queryUsers(query string, args ...any) ([]*User, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Name, &user.Login, bannedFlag{&user.Banned}, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, &user)
	}
	return users, rows.Err()
}

// FindUserIDByName resolves a display name to a user id.
// Returns ErrUserNotFound when no account carries that name.
func (db *DB) FindUserIDByName(name string) (int64, error) {
	var id int64
	err := db.conn.QueryRow(`SELECT id FROM users WHERE name = ?`, name).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return id, nil
}

// GetUserNameByID resolves a user id to its display name.
func (db *DB) GetUserNameByID(id int64) (string, error) {
	var name string
	err := db.conn.QueryRow(`SELECT name FROM users WHERE id = ?`, id).Scan(&name)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return name, nil
}

// SavePrivateMessage persists a direct message between two accounts.
func (db *DB) SavePrivateMessage(senderID, receiverID int64, body string) error {
	_, err := db.writeConn.Exec(`
		INSERT INTO private_messages (sender_id, receiver_id, message_text, created_at)
		VALUES (?, ?, ?, ?)
	`, senderID, receiverID, body, nowMillis())
	return err
}

// SavePublicMessage persists a broadcast message. The sender name is
// denormalized so the public log survives account deletion of other users.
func (db *DB) SavePublicMessage(senderID int64, senderName, body string) error {
	_, err := db.writeConn.Exec(`
		INSERT INTO public_messages (sender_id, sender_name, message_text, created_at)
		VALUES (?, ?, ?, ?)
	`, senderID, senderName, body, nowMillis())
	return err
}

// ListPublicMessages returns the full public log in send order.
func (db *DB) ListPublicMessages() ([]*Message, error) {
	rows, err := db.conn.Query(`
		SELECT id, sender_name, message_text, created_at
		FROM public_messages
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.From, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// ListPrivateMessagesFor returns every private message the login sent or
// received, in send order. Messages where the login is the recipient are
// marked read as a side effect.
func (db *DB) ListPrivateMessagesFor(login string) ([]*Message, error) {
	rows, err := db.conn.Query(`
		SELECT pm.id, u_sender.name, u_receiver.name, pm.message_text, pm.created_at
		FROM private_messages pm
		JOIN users u_sender ON pm.sender_id = u_sender.id
		JOIN users u_receiver ON pm.receiver_id = u_receiver.id
		WHERE u_sender.login = ? OR u_receiver.login = ?
		ORDER BY pm.created_at, pm.id
	`, login, login)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.From, &msg.To, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.MarkPrivateMessagesRead(login); err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkPrivateMessagesRead flags every message received by the login as read.
func (db *DB) MarkPrivateMessagesRead(login string) error {
	_, err := db.writeConn.Exec(`
		UPDATE private_messages
		SET is_read = 1
		WHERE receiver_id IN (SELECT id FROM users WHERE login = ?)
	`, login)
	return err
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
// modernc.org/sqlite surfaces these in the error message rather than as a
// typed error, so the check goes by message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// bannedFlag adapts the textual status column to a bool during row scans.
type bannedFlag struct {
	banned *bool
}

func (f bannedFlag) Scan(src any) error {
	var status string
	switch v := src.(type) {
	case string:
		status = v
	case []byte:
		status = string(v)
	default:
		return fmt.Errorf("unexpected status type %T", src)
	}
	*f.banned = status == "banned"
	return nil
}
