package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	authcore "github.com/itrimble/securewatch-auth"
	"github.com/itrimble/securewatch-auth/mfa"
	"github.com/itrimble/securewatch-auth/rbac"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewWithDB(db), mock
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: pgErrUniqueViolation}
}

func TestCreateUser(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec("insert into users").
		WithArgs("u1", "org1", "user@example.com", "hash", false, true, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CreateUser(context.Background(), &authcore.User{
		ID: "u1", OrganizationID: "org1", Email: "user@example.com",
		PasswordHash: "hash", Active: true, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into users").
		WillReturnError(uniqueViolation())

	err := store.CreateUser(context.Background(), &authcore.User{ID: "u1", Email: "user@example.com"})
	if !errors.Is(err, authcore.ErrEmailTaken) {
		t.Fatalf("err = %v, want ErrEmailTaken", err)
	}
}

func TestGetUserByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "organization_id", "email", "password_hash", "email_verified", "active", "created_at", "updated_at"}).
		AddRow("u1", "org1", "user@example.com", "hash", true, true, now, now)
	mock.ExpectQuery("select (.+) from users").
		WithArgs("user@example.com").
		WillReturnRows(rows)

	user, err := store.GetUserByEmail(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if user.ID != "u1" || !user.EmailVerified {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestGetUserByEmailMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select (.+) from users").
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "email", "password_hash", "email_verified", "active", "created_at", "updated_at"}))

	_, err := store.GetUserByEmail(context.Background(), "nobody@example.com")
	if !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestSetEmailVerifiedMissingUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update users set email_verified").
		WithArgs("ghost", true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetEmailVerified(context.Background(), "ghost", true)
	if !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestRolesForUserFiltersExpiredInQuery(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "organization_id", "name", "description", "priority", "is_system", "is_default", "created_at", "updated_at"}).
		AddRow("r1", "org1", "analyst", "", 10, false, false, now, now).
		AddRow("r2", "", "viewer", "global read", 1, true, true, now, now)
	mock.ExpectQuery("select (.+) from roles r.*join user_roles ur.*expires_at is null or ur.expires_at > now").
		WithArgs("u1", "org1").
		WillReturnRows(rows)

	roles, err := store.RolesForUser(context.Background(), "u1", "org1")
	if err != nil {
		t.Fatalf("RolesForUser: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("got %d roles, want 2", len(roles))
	}
	if roles[1].OrganizationID != "" {
		t.Errorf("global role should scan with empty organization id")
	}
}

func TestCreateRoleDuplicateName(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into roles").
		WillReturnError(uniqueViolation())

	err := store.CreateRole(context.Background(), &rbac.Role{ID: "r1", Name: "analyst"})
	if !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestReplaceRolePermissions(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from roles").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("delete from role_permissions").
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r1", "p2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.ReplaceRolePermissions(context.Background(), "r1", []string{"p1", "p2"}); err != nil {
		t.Fatalf("ReplaceRolePermissions: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReplaceRolePermissionsMissingRole(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from roles").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectRollback()

	err := store.ReplaceRolePermissions(context.Background(), "ghost", []string{"p1"})
	if !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertAssignment(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	expiry := now.Add(time.Hour)

	mock.ExpectExec("insert into user_roles.*on conflict").
		WithArgs("u1", "r1", "org1", sqlmock.AnyArg(), sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertAssignment(context.Background(), &rbac.Assignment{
		UserID: "u1", RoleID: "r1", OrganizationID: "org1",
		AssignedBy: "admin", ExpiresAt: &expiry, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("UpsertAssignment: %v", err)
	}
}

func TestPermissionsForUser(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"key"}).
		AddRow("alerts.read").
		AddRow("alerts.ack")
	mock.ExpectQuery("select distinct p.resource").
		WithArgs("u1", "org1").
		WillReturnRows(rows)

	perms, err := store.PermissionsForUser(context.Background(), "u1", "org1")
	if err != nil {
		t.Fatalf("PermissionsForUser: %v", err)
	}
	if len(perms) != 2 || perms[0] != "alerts.read" {
		t.Errorf("perms = %v", perms)
	}
}

func TestGetMethod(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "user_id", "type", "secret_encrypted", "backup_codes", "verified", "is_primary", "last_used_at", "created_at"}).
		AddRow("m1", "u1", mfa.TypeTOTP, []byte("sealed"), []byte(`["h1","h2"]`), true, true, nil, now)
	mock.ExpectQuery("select (.+) from mfa_methods").
		WithArgs("u1", mfa.TypeTOTP).
		WillReturnRows(rows)

	m, err := store.GetMethod(context.Background(), "u1", mfa.TypeTOTP)
	if err != nil {
		t.Fatalf("GetMethod: %v", err)
	}
	if len(m.BackupCodeHashes) != 2 {
		t.Errorf("backup code hashes = %v", m.BackupCodeHashes)
	}
	if m.LastUsedAt != nil {
		t.Error("LastUsedAt should be nil for a never-used method")
	}
}

func TestGetMethodNotConfigured(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select (.+) from mfa_methods").
		WithArgs("u1", mfa.TypeTOTP).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "type", "secret_encrypted", "backup_codes", "verified", "is_primary", "last_used_at", "created_at"}))

	_, err := store.GetMethod(context.Background(), "u1", mfa.TypeTOTP)
	if !errors.Is(err, mfa.ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestReplaceBackupCodes(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update mfa_methods set backup_codes").
		WithArgs("m1", []byte(`["h3"]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.ReplaceBackupCodes(context.Background(), "m1", []string{"h3"}); err != nil {
		t.Fatalf("ReplaceBackupCodes: %v", err)
	}
}

func TestGetAPIKeyByHashRevoked(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("update api_keys set last_used_at").
		WithArgs("deadbeef").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "key_hash", "created_at", "last_used_at"}))

	_, err := store.GetAPIKeyByHash(context.Background(), "deadbeef")
	if !errors.Is(err, authcore.ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestLinkOAuthAccountStoresProviderVerification(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec("insert into oauth_accounts").
		WithArgs("oa1", "u1", "github", "gh-123", "user@example.com", false, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.LinkOAuthAccount(context.Background(), &OAuthAccount{
		ID: "oa1", UserID: "u1", Provider: "github", ProviderUserID: "gh-123",
		Email: "user@example.com", EmailVerified: false, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("LinkOAuthAccount: %v", err)
	}
}
