package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"go-exam-portal/internal/model"
	"go-exam-portal/pkg/apierror"
)

// Timeout bounds handler execution. Handlers see the deadline through the
// request context; the client gets a 503 with the JSON error envelope.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	message, _ := json.Marshal(model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:    apierror.CodeRequestTimeout,
			Message: "request timed out",
		},
	})

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, string(message))
	}
}
