package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func mustRegister(t *testing.T, db *DB, name, login, password string) int64 {
	t.Helper()
	id, err := db.RegisterUser(name, login, password)
	require.NoError(t, err)
	return id
}

func TestRegisterAndAuthenticate(t *testing.T) {
	db := testDB(t)

	mustRegister(t, db, "Alice", "alice", "pw1")

	user, err := db.AuthenticateUser("alice", "pw1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "alice", user.Login)
	assert.False(t, user.Banned)

	_, err = db.AuthenticateUser("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = db.AuthenticateUser("nobody", "pw1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterDuplicateLogin(t *testing.T) {
	db := testDB(t)

	mustRegister(t, db, "Alice", "alice", "pw1")

	_, err := db.RegisterUser("Other", "alice", "pw2")
	assert.ErrorIs(t, err, ErrLoginTaken)

	// The failed registration must not clobber the original account
	user, err := db.AuthenticateUser("alice", "pw1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)
}

func TestBanUnbanCycle(t *testing.T) {
	db := testDB(t)

	mustRegister(t, db, "Alice", "alice", "pw1")

	banned, err := db.IsUserBanned("alice")
	require.NoError(t, err)
	assert.False(t, banned)

	ok, err := db.BanUser("alice")
	require.NoError(t, err)
	assert.True(t, ok)

	banned, err = db.IsUserBanned("alice")
	require.NoError(t, err)
	assert.True(t, banned)

	ok, err = db.UnbanUser("alice")
	require.NoError(t, err)
	assert.True(t, ok)

	banned, err = db.IsUserBanned("alice")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestBanUnknownUser(t *testing.T) {
	db := testDB(t)

	ok, err := db.BanUser("nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	// Unknown logins are simply not banned
	banned, err := db.IsUserBanned("nobody")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestGetBannedUsers(t *testing.T) {
	db := testDB(t)

	mustRegister(t, db, "Alice", "alice", "pw")
	mustRegister(t, db, "Bob", "bob", "pw")
	mustRegister(t, db, "Carol", "carol", "pw")

	_, err := db.BanUser("carol")
	require.NoError(t, err)
	_, err = db.BanUser("alice")
	require.NoError(t, err)

	banned, err := db.GetBannedUsers()
	require.NoError(t, err)
	require.Len(t, banned, 2)
	assert.Equal(t, "Alice", banned[0].Name)
	assert.Equal(t, "Carol", banned[1].Name)
}

func TestListAllUsersSortedByName(t *testing.T) {
	db := testDB(t)

	users, err := db.ListAllUsers()
	require.NoError(t, err)
	assert.Empty(t, users)

	mustRegister(t, db, "Carol", "carol", "pw")
	mustRegister(t, db, "Alice", "alice", "pw")

	users, err = db.ListAllUsers()
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Alice", users[0].Name)
	assert.Equal(t, "Carol", users[1].Name)
}

func TestFindUserIDByName(t *testing.T) {
	db := testDB(t)

	id := mustRegister(t, db, "Alice", "alice", "pw")

	found, err := db.FindUserIDByName("Alice")
	require.NoError(t, err)
	assert.Equal(t, id, found)

	_, err = db.FindUserIDByName("Nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	name, err := db.GetUserNameByID(id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
}

func TestPrivateMessagesVisibleToBothParties(t *testing.T) {
	db := testDB(t)

	aliceID := mustRegister(t, db, "Alice", "alice", "pw")
	bobID := mustRegister(t, db, "Bob", "bob", "pw")

	require.NoError(t, db.SavePrivateMessage(aliceID, bobID, "hi bob"))
	require.NoError(t, db.SavePrivateMessage(bobID, aliceID, "hi alice"))

	// Sender and recipient both see the full conversation
	for _, login := range []string{"alice", "bob"} {
		messages, err := db.ListPrivateMessagesFor(login)
		require.NoError(t, err)
		require.Len(t, messages, 2, "login %s", login)
		assert.Equal(t, "Alice", messages[0].From)
		assert.Equal(t, "Bob", messages[0].To)
		assert.Equal(t, "hi bob", messages[0].Body)
		assert.Equal(t, "hi alice", messages[1].Body)
	}

	// A third party sees none of it
	mustRegister(t, db, "Carol", "carol", "pw")
	messages, err := db.ListPrivateMessagesFor("carol")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestPublicMessageLog(t *testing.T) {
	db := testDB(t)

	aliceID := mustRegister(t, db, "Alice", "alice", "pw")

	messages, err := db.ListPublicMessages()
	require.NoError(t, err)
	assert.Empty(t, messages)

	require.NoError(t, db.SavePublicMessage(aliceID, "Alice", "first"))
	require.NoError(t, db.SavePublicMessage(aliceID, "Alice", "second"))

	messages, err = db.ListPublicMessages()
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Body)
	assert.Equal(t, "second", messages[1].Body)
	assert.Equal(t, "Alice", messages[0].From)
	assert.Empty(t, messages[0].To)
}

func TestDeleteUserCascades(t *testing.T) {
	db := testDB(t)

	aliceID := mustRegister(t, db, "Alice", "alice", "pw")
	bobID := mustRegister(t, db, "Bob", "bob", "pw")

	require.NoError(t, db.SavePrivateMessage(aliceID, bobID, "hi"))
	require.NoError(t, db.SavePublicMessage(aliceID, "Alice", "hello all"))

	ok, err := db.DeleteUser("alice")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = db.AuthenticateUser("alice", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Bob's mailbox no longer references the deleted account
	messages, err := db.ListPrivateMessagesFor("bob")
	require.NoError(t, err)
	assert.Empty(t, messages)

	public, err := db.ListPublicMessages()
	require.NoError(t, err)
	assert.Empty(t, public)

	ok, err = db.DeleteUser("alice")
	require.NoError(t, err)
	assert.False(t, ok, "second delete finds nothing")
}
