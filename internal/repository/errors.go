package repository

import (
	"net/http"
	"strings"

	"go-exam-portal/internal/model"
	"go-exam-portal/pkg/apierror"
)

// notFound echoes id in Details; login lookups pass "" so a miss never
// reflects the submitted login back.
func notFound(role model.Role, id string) error {
	err := apierror.Wrap(model.ErrPrincipalNotFound, apierror.CodeNotFound, string(role)+" not found", http.StatusNotFound)
	err.Details = id
	return err
}

func alreadyExists(role model.Role) error {
	return apierror.Wrap(model.ErrPrincipalAlreadyExists, apierror.CodeAlreadyExists,
		string(role)+" with this email or identifier already exists", http.StatusBadRequest)
}

// nullable maps "" to SQL NULL so the partial unique index ignores roles
// without an identifier.
func nullable(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
