// Package session owns the single live refresh token stored on each
// principal. Beginning a session supersedes any earlier one; rotating
// accepts only the token currently on record.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"go-exam-portal/internal/model"
	"go-exam-portal/internal/token"
	"go-exam-portal/pkg/apierror"
)

const tokenType = "Bearer"

type Store interface {
	FindByID(ctx context.Context, role model.Role, id string) (model.Principal, error)
	SetRefreshToken(ctx context.Context, role model.Role, id string, token string) error
}

type Manager struct {
	store Store
	codec *token.Codec
}

func NewManager(store Store, codec *token.Codec) *Manager {
	return &Manager{store: store, codec: codec}
}

// Begin issues a fresh pair for the principal and records its refresh token,
// replacing whatever was stored before.
func (m *Manager) Begin(ctx context.Context, role model.Role, id string) (model.TokenPair, error) {
	p, err := m.store.FindByID(ctx, role, id)
	if err != nil {
		return model.TokenPair{}, err
	}
	return m.issue(ctx, p)
}

// End clears the stored refresh token. Ending a session that does not exist,
// or of a principal that was deleted, succeeds.
func (m *Manager) End(ctx context.Context, role model.Role, id string) error {
	err := m.store.SetRefreshToken(ctx, role, id, "")
	if err != nil && !errors.Is(err, model.ErrPrincipalNotFound) {
		return apierror.Internal(err, "failed to end session")
	}
	return nil
}

// Rotate exchanges a presented refresh token for a new pair. The presented
// token must verify, belong to expected, and byte-match the one on record.
func (m *Manager) Rotate(ctx context.Context, expected model.Role, presented string) (model.TokenPair, error) {
	claims, err := m.codec.VerifyRefresh(presented)
	if err != nil {
		if errors.Is(err, model.ErrTokenExpired) {
			return model.TokenPair{}, apierror.Wrap(err, apierror.CodeTokenExpired, "refresh token expired", http.StatusUnauthorized)
		}
		return model.TokenPair{}, apierror.Wrap(err, apierror.CodeTokenInvalid, "invalid refresh token", http.StatusUnauthorized)
	}

	role, ok := model.ParseRole(string(claims.User))
	if !ok || role != expected {
		return model.TokenPair{}, apierror.Wrap(model.ErrUnauthorized, apierror.CodeUnauthorized, "invalid refresh token", http.StatusUnauthorized)
	}

	p, err := m.store.FindByID(ctx, role, claims.PrincipalID)
	if errors.Is(err, model.ErrPrincipalNotFound) {
		return model.TokenPair{}, apierror.Wrap(err, apierror.CodeUnauthorized, "invalid refresh token", http.StatusUnauthorized)
	}
	if err != nil {
		return model.TokenPair{}, err
	}

	if !p.HasSession() || subtle.ConstantTimeCompare([]byte(*p.RefreshToken), []byte(presented)) != 1 {
		return model.TokenPair{}, apierror.Unauthorized("refresh token is expired or used")
	}

	return m.issue(ctx, p)
}

func (m *Manager) issue(ctx context.Context, p model.Principal) (model.TokenPair, error) {
	access, err := m.codec.IssueAccess(p)
	if err != nil {
		return model.TokenPair{}, apierror.Internal(err, "failed to issue tokens")
	}
	refresh, err := m.codec.IssueRefresh(p)
	if err != nil {
		return model.TokenPair{}, apierror.Internal(err, "failed to issue tokens")
	}

	if err := m.store.SetRefreshToken(ctx, p.Role, p.ID, refresh); err != nil {
		return model.TokenPair{}, apierror.Internal(err, "failed to persist session")
	}

	return model.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenType,
		ExpiresIn:    int64(m.codec.AccessTTL().Seconds()),
	}, nil
}
