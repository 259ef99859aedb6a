package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"go-exam-portal/internal/model"
	"go-exam-portal/pkg/apierror"
)

func writeError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:    code,
			Message: message,
		},
	})
}

// writeAPIError writes err's code and message when it carries an APIError,
// and a generic 500 otherwise.
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		writeError(w, apiErr.HTTPStatus, apiErr.Code, apiErr.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, apierror.CodeInternal, "Unexpected server error")
}
