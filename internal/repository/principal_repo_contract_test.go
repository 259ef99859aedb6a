package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-exam-portal/internal/database"
	"go-exam-portal/internal/model"
	"go-exam-portal/pkg/apierror"
)

type principalStore interface {
	FindByID(ctx context.Context, role model.Role, id string) (model.Principal, error)
	FindByLogin(ctx context.Context, role model.Role, login string) (model.Principal, error)
	FindConflict(ctx context.Context, role model.Role, email string, identifier string, excludeID string) (bool, error)
	Create(ctx context.Context, p model.Principal) error
	Update(ctx context.Context, p model.Principal) error
	UpdatePassword(ctx context.Context, role model.Role, id string, passwordHash string) error
	SetRefreshToken(ctx context.Context, role model.Role, id string, token string) error
	UpdateAvatar(ctx context.Context, role model.Role, id string, avatarURL string) error
	Delete(ctx context.Context, role model.Role, id string) error
	Count(ctx context.Context, role model.Role) (int, error)
}

var (
	_ principalStore = (*PrincipalRepository)(nil)
	_ principalStore = (*SQLitePrincipalRepository)(nil)
	_ principalStore = (*MemoryPrincipalRepository)(nil)
)

func stores(t *testing.T) map[string]principalStore {
	t.Helper()

	db, err := database.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return map[string]principalStore{
		"memory": NewMemoryPrincipalRepository(),
		"sqlite": NewSQLitePrincipalRepository(db),
	}
}

func student(id string, email string, rollNo string) model.Principal {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return model.Principal{
		ID:           id,
		Role:         model.RoleStudent,
		Name:         "Asha",
		Email:        email,
		Phone:        "555-0100",
		Identifier:   rollNo,
		Course:       "BCA",
		Avatar:       "http://localhost/static/avatars/default.jpg",
		PasswordHash: "$2a$10$hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestPrincipalStores(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			runContract(t, store)
		})
	}
}

func runContract(t *testing.T, store principalStore) {
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, student("s-1", "Asha@X.com", "A1")))

	t.Run("find by id is scoped by role", func(t *testing.T) {
		p, err := store.FindByID(ctx, model.RoleStudent, "s-1")
		require.NoError(t, err)
		require.Equal(t, "A1", p.Identifier)
		require.Equal(t, "BCA", p.Course)
		require.False(t, p.HasSession())

		_, err = store.FindByID(ctx, model.RoleTeacher, "s-1")
		require.ErrorIs(t, err, model.ErrPrincipalNotFound)
		require.Equal(t, apierror.CodeNotFound, apierror.CodeOf(err))
	})

	t.Run("login by email or identifier", func(t *testing.T) {
		byEmail, err := store.FindByLogin(ctx, model.RoleStudent, "asha@x.com")
		require.NoError(t, err)
		require.Equal(t, "s-1", byEmail.ID)

		byRoll, err := store.FindByLogin(ctx, model.RoleStudent, " A1 ")
		require.NoError(t, err)
		require.Equal(t, "s-1", byRoll.ID)

		_, err = store.FindByLogin(ctx, model.RoleStudent, "nobody@x.com")
		require.ErrorIs(t, err, model.ErrPrincipalNotFound)

		var apiErr *apierror.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Empty(t, apiErr.Details, "a login miss does not echo the login")
	})

	t.Run("uniqueness is per role", func(t *testing.T) {
		err := store.Create(ctx, student("s-2", "asha@x.com", "A2"))
		require.ErrorIs(t, err, model.ErrPrincipalAlreadyExists)
		require.Equal(t, apierror.CodeAlreadyExists, apierror.CodeOf(err))

		err = store.Create(ctx, student("s-3", "other@x.com", "A1"))
		require.ErrorIs(t, err, model.ErrPrincipalAlreadyExists)

		admin := student("a-1", "asha@x.com", "")
		admin.Role = model.RoleAdmin
		admin.Course = ""
		require.NoError(t, store.Create(ctx, admin))

		second := student("a-2", "root@x.com", "")
		second.Role = model.RoleAdmin
		require.NoError(t, store.Create(ctx, second))

		count, err := store.Count(ctx, model.RoleAdmin)
		require.NoError(t, err)
		require.Equal(t, 2, count)
	})

	t.Run("conflict check excludes self", func(t *testing.T) {
		conflict, err := store.FindConflict(ctx, model.RoleStudent, "ASHA@x.com", "", "")
		require.NoError(t, err)
		require.True(t, conflict)

		conflict, err = store.FindConflict(ctx, model.RoleStudent, "asha@x.com", "A1", "s-1")
		require.NoError(t, err)
		require.False(t, conflict)

		conflict, err = store.FindConflict(ctx, model.RoleTeacher, "asha@x.com", "A1", "")
		require.NoError(t, err)
		require.False(t, conflict)
	})

	t.Run("refresh token set and clear", func(t *testing.T) {
		require.NoError(t, store.SetRefreshToken(ctx, model.RoleStudent, "s-1", "token-1"))
		p, err := store.FindByID(ctx, model.RoleStudent, "s-1")
		require.NoError(t, err)
		require.True(t, p.HasSession())
		require.Equal(t, "token-1", *p.RefreshToken)

		require.NoError(t, store.SetRefreshToken(ctx, model.RoleStudent, "s-1", ""))
		p, err = store.FindByID(ctx, model.RoleStudent, "s-1")
		require.NoError(t, err)
		require.False(t, p.HasSession())

		err = store.SetRefreshToken(ctx, model.RoleStudent, "missing", "token")
		require.ErrorIs(t, err, model.ErrPrincipalNotFound)
	})

	t.Run("update writes profile fields only", func(t *testing.T) {
		p, err := store.FindByID(ctx, model.RoleStudent, "s-1")
		require.NoError(t, err)

		p.Name = "Asha K"
		p.Course = "MCA"
		p.PasswordHash = "ignored"
		p.Avatar = "ignored"
		require.NoError(t, store.Update(ctx, p))

		updated, err := store.FindByID(ctx, model.RoleStudent, "s-1")
		require.NoError(t, err)
		require.Equal(t, "Asha K", updated.Name)
		require.Equal(t, "MCA", updated.Course)
		require.Equal(t, "$2a$10$hash", updated.PasswordHash)
		require.NotEqual(t, "ignored", updated.Avatar)
	})

	t.Run("update rejects duplicate email", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, student("s-4", "ben@x.com", "A4")))
		p, err := store.FindByID(ctx, model.RoleStudent, "s-4")
		require.NoError(t, err)

		p.Email = "asha@x.com"
		err = store.Update(ctx, p)
		require.ErrorIs(t, err, model.ErrPrincipalAlreadyExists)
	})

	t.Run("password and avatar", func(t *testing.T) {
		require.NoError(t, store.UpdatePassword(ctx, model.RoleStudent, "s-1", "$2a$10$new"))
		require.NoError(t, store.UpdateAvatar(ctx, model.RoleStudent, "s-1", "http://cdn/new.jpg"))

		p, err := store.FindByID(ctx, model.RoleStudent, "s-1")
		require.NoError(t, err)
		require.Equal(t, "$2a$10$new", p.PasswordHash)
		require.Equal(t, "http://cdn/new.jpg", p.Avatar)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, model.RoleStudent, "s-4"))
		_, err := store.FindByID(ctx, model.RoleStudent, "s-4")
		require.ErrorIs(t, err, model.ErrPrincipalNotFound)

		err = store.Delete(ctx, model.RoleStudent, "s-4")
		require.ErrorIs(t, err, model.ErrPrincipalNotFound)
	})
}
