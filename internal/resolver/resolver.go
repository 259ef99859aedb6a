// Package resolver turns verified access-token claims into the current
// principal, dispatching on the role tag.
package resolver

import (
	"context"
	"errors"
	"net/http"

	"go-exam-portal/internal/model"
	"go-exam-portal/internal/token"
	"go-exam-portal/pkg/apierror"
)

type Store interface {
	FindByID(ctx context.Context, role model.Role, id string) (model.Principal, error)
}

type Resolver struct {
	store Store
}

func New(store Store) *Resolver {
	return &Resolver{store: store}
}

func (r *Resolver) Resolve(ctx context.Context, claims *token.AccessClaims) (model.PrincipalView, error) {
	if claims == nil {
		return model.PrincipalView{}, invalidClaims()
	}

	role, ok := model.ParseRole(string(claims.User))
	if !ok {
		return model.PrincipalView{}, invalidClaims()
	}

	p, err := r.store.FindByID(ctx, role, claims.PrincipalID)
	if errors.Is(err, model.ErrPrincipalNotFound) {
		return model.PrincipalView{}, apierror.Wrap(err, apierror.CodePrincipalNotFound, "invalid access token", http.StatusUnauthorized)
	}
	if err != nil {
		return model.PrincipalView{}, apierror.Internal(err, "failed to resolve principal")
	}

	return p.View(), nil
}

func invalidClaims() error {
	return apierror.Wrap(model.ErrUnauthorized, apierror.CodeUnauthorized, "invalid access token", http.StatusUnauthorized)
}
