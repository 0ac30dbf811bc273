package server

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Default admin accounts created when no credential file exists yet. This is
// an operational bootstrap convenience, not a security boundary: operators
// are expected to change these immediately.
var bootstrapAdmins = map[string]string{
	"admin": "admin123",
	"moder": "moder123",
}

// AdminStore holds the admin credential mapping, separate from user
// accounts. Mutations happen under the same chat-state lock as the Registry
// and every successful mutation rewrites the credential file in full
// (one "login digest" line per admin). The mapping never drops below one
// entry.
type AdminStore struct {
	mu       *sync.Mutex
	path     string
	accounts map[string]string // login -> bcrypt digest
}

// NewAdminStore loads the credential file at path, creating it with the
// bootstrap accounts when it does not exist yet.
func NewAdminStore(path string, mu *sync.Mutex) (*AdminStore, error) {
	store := &AdminStore{
		mu:       mu,
		path:     path,
		accounts: make(map[string]string),
	}

	if err := store.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load admin file: %w", err)
		}
		for login, password := range bootstrapAdmins {
			digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("failed to hash bootstrap password: %w", err)
			}
			store.accounts[login] = string(digest)
		}
		if err := store.save(); err != nil {
			return nil, fmt.Errorf("failed to write admin file: %w", err)
		}
	}

	if len(store.accounts) == 0 {
		return nil, fmt.Errorf("admin file %s contains no accounts", path)
	}

	return store, nil
}

// Login verifies the admin credential pair. No lockout or throttling. The
// bcrypt comparison runs outside the chat-state lock so a slow hash does not
// serialize every other session.
func (a *AdminStore) Login(login, password string) bool {
	a.mu.Lock()
	digest, ok := a.accounts[login]
	a.mu.Unlock()

	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// Add creates a new admin account. Returns false when the login is taken or
// the password cannot be hashed; the file is rewritten on success.
func (a *AdminStore) Add(login, password string) bool {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		errorLog.Printf("Failed to hash password for admin %s: %v", login, err)
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.accounts[login]; exists {
		return false
	}

	a.accounts[login] = string(digest)
	if err := a.save(); err != nil {
		errorLog.Printf("Failed to save admin file: %v", err)
	}
	return true
}

// Remove deletes an admin account. Refused (no mutation) when the login is
// unknown or when removal would leave the mapping empty.
func (a *AdminStore) Remove(login string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.accounts) <= 1 {
		return false
	}
	if _, exists := a.accounts[login]; !exists {
		return false
	}

	delete(a.accounts, login)
	if err := a.save(); err != nil {
		errorLog.Printf("Failed to save admin file: %v", err)
	}
	return true
}

// ChangePassword replaces the digest for an existing admin account.
func (a *AdminStore) ChangePassword(login, newPassword string) bool {
	digest, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		errorLog.Printf("Failed to hash password for admin %s: %v", login, err)
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.accounts[login]; !exists {
		return false
	}

	a.accounts[login] = string(digest)
	if err := a.save(); err != nil {
		errorLog.Printf("Failed to save admin file: %v", err)
	}
	return true
}

// List returns the admin logins, sorted.
func (a *AdminStore) List() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	logins := make([]string, 0, len(a.accounts))
	for login := range a.accounts {
		logins = append(logins, login)
	}
	sort.Strings(logins)
	return logins
}

// Count returns the number of admin accounts.
func (a *AdminStore) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.accounts)
}

// load reads the credential file into the mapping. Malformed lines are
// skipped.
func (a *AdminStore) load() error {
	f, err := os.Open(a.path)
	if err != nil {
		return err
	}
	defer f.Close()

	accounts := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		accounts[fields[0]] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	a.accounts = accounts
	return nil
}

// save rewrites the credential file in full. Caller holds the lock.
func (a *AdminStore) save() error {
	if dir := filepath.Dir(a.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	var sb strings.Builder
	logins := make([]string, 0, len(a.accounts))
	for login := range a.accounts {
		logins = append(logins, login)
	}
	sort.Strings(logins)
	for _, login := range logins {
		fmt.Fprintf(&sb, "%s %s\n", login, a.accounts[login])
	}

	return os.WriteFile(a.path, []byte(sb.String()), 0600)
}
