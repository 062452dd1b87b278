package drive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRegisterAndAuthenticate verifies account creation, login and session tokens.
func TestRegisterAndAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.register(t, "alice")
	require.Equal(t, DefaultSettings().DefaultQuotaBytes, alice.StorageQuota)
	require.False(t, alice.IsAdmin)
	require.NotEqual(t, "secret123", alice.PasswordHash)

	info, err := os.Stat(filepath.Join(env.root, "alice"))
	require.NoError(t, err)
	require.True(t, info.IsDir())

	session, err := env.svc.Authenticate(ctx, "alice", "secret123")
	require.NoError(t, err)
	require.Equal(t, alice.ID, session.UserID)

	claims, err := env.signer.ParseUser(session.AccessToken)
	require.NoError(t, err)
	uid, err := claims.UserID()
	require.NoError(t, err)
	require.Equal(t, alice.ID, uid)

	_, err = env.svc.Authenticate(ctx, "alice", "wrong")
	require.True(t, IsCode(err, ErrCodeUnauthorized), "%+v", err)
	_, err = env.svc.Authenticate(ctx, "nobody", "secret123")
	require.True(t, IsCode(err, ErrCodeUnauthorized), "%+v", err)
}

// TestRegisterValidation verifies malformed and duplicate registrations are rejected.
func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")

	cases := []RegisterRequest{
		{Username: "", Email: "a@b.c", Password: "secret123"},
		{Username: "ab", Email: "a@b.c", Password: "secret123"},
		{Username: "../etc", Email: "a@b.c", Password: "secret123"},
		{Username: ".thumbnails", Email: "a@b.c", Password: "secret123"},
		{Username: "carol", Email: "not-an-email", Password: "secret123"},
		{Username: "carol", Email: "c@example.com", Password: "123"},
		{Username: "alice", Email: "other@example.com", Password: "secret123"},
		{Username: "carol", Email: "ALICE@example.com", Password: "secret123"},
	}
	for _, req := range cases {
		_, err := env.svc.Register(ctx, req)
		require.True(t, IsCode(err, ErrCodeInvalidArgument), "%+v: %+v", req, err)
	}
}

// TestUserInfo verifies usage reporting.
func TestUserInfo(t *testing.T) {
	env := newTestEnv(t, func(s *Settings) { s.DefaultQuotaBytes = 200 })
	ctx := context.Background()
	alice := env.register(t, "alice")
	env.upload(t, alice.ID, nil, "half.bin", string(make([]byte, 50)))

	info, err := env.svc.UserInfo(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", info.Username)
	require.EqualValues(t, 200, info.StorageQuota)
	require.EqualValues(t, 50, info.StorageUsed)
	require.InDelta(t, 25.0, info.StoragePercent, 0.0001)

	_, err = env.svc.UserInfo(ctx, 4242)
	require.True(t, IsCode(err, ErrCodeNotFound), "%+v", err)
}

// TestSeedDefaultUsers verifies seeding is idempotent and grants the admin quota.
func TestSeedDefaultUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.SeedDefaultUsers(ctx))
	require.NoError(t, env.svc.SeedDefaultUsers(ctx))
	require.EqualValues(t, 2, countRows(t, env.db, &User{}, "1 = 1"))

	var admin User
	require.NoError(t, env.db.Where("username = ?", "admin").First(&admin).Error)
	require.True(t, admin.IsAdmin)
	require.EqualValues(t, int64(10737418240), admin.StorageQuota)

	var teste User
	require.NoError(t, env.db.Where("username = ?", "teste").First(&teste).Error)
	require.False(t, teste.IsAdmin)
	require.EqualValues(t, int64(1073741824), teste.StorageQuota)

	_, err := env.svc.Authenticate(ctx, "admin", "admin123")
	require.NoError(t, err)
}

// TestDeleteUserCascade verifies an admin removes a user with rows, shares and bytes.
func TestDeleteUserCascade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.svc.SeedDefaultUsers(ctx))
	var admin User
	require.NoError(t, env.db.Where("username = ?", "admin").First(&admin).Error)

	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	docs, err := env.svc.CreateFolder(ctx, alice.ID, "docs", nil)
	require.NoError(t, err)
	file := env.upload(t, alice.ID, &docs.ID, "a.txt", "a")
	bobFile := env.upload(t, bob.ID, nil, "b.txt", "b")
	_, err = env.svc.CreateShare(ctx, CreateShareRequest{OwnerID: alice.ID, FileID: &file.ID})
	require.NoError(t, err)
	_, err = env.svc.CreateShare(ctx, CreateShareRequest{OwnerID: bob.ID, FileID: &bobFile.ID, SharedWith: "alice"})
	require.NoError(t, err)

	err = env.svc.DeleteUser(ctx, bob.ID, alice.ID)
	require.True(t, IsCode(err, ErrCodeForbidden), "%+v", err)
	err = env.svc.DeleteUser(ctx, admin.ID, admin.ID)
	require.True(t, IsCode(err, ErrCodeInvalidArgument), "%+v", err)

	require.NoError(t, env.svc.DeleteUser(ctx, admin.ID, alice.ID))

	require.EqualValues(t, 0, countRows(t, env.db, &User{}, "id = ?", alice.ID))
	require.EqualValues(t, 0, countRows(t, env.db, &File{}, "owner_id = ?", alice.ID))
	require.EqualValues(t, 0, countRows(t, env.db, &Folder{}, "owner_id = ?", alice.ID))
	require.EqualValues(t, 0, countRows(t, env.db, &Share{}, "owner_id = ? OR shared_with_id = ?", alice.ID, alice.ID))
	require.EqualValues(t, 1, countRows(t, env.db, &File{}, "owner_id = ?", bob.ID))

	_, err = os.Stat(filepath.Join(env.root, "alice"))
	require.True(t, os.IsNotExist(err))
	require.Equal(t, "b", readFile(t, bobFile.FilePath))

	err = env.svc.DeleteUser(ctx, admin.ID, alice.ID)
	require.True(t, IsCode(err, ErrCodeNotFound), "%+v", err)
}
