package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go-exam-portal/internal/media"
	"go-exam-portal/internal/middleware"
	"go-exam-portal/internal/model"
	"go-exam-portal/internal/service"
	"go-exam-portal/pkg/apierror"
)

// AuthHandler serves one role's collection. The router mounts one instance
// per role, all sharing the same AuthService.
type AuthHandler struct {
	service       *service.AuthService
	role          model.Role
	label         string
	cookies       CookieConfig
	maxAvatarSize int64
	uploadDir     string
}

func NewAuthHandler(service *service.AuthService, role model.Role, cookies CookieConfig, maxAvatarSize int64, uploadDir string) *AuthHandler {
	label := string(role)
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}

	return &AuthHandler{
		service:       service,
		role:          role,
		label:         label,
		cookies:       cookies,
		maxAvatarSize: maxAvatarSize,
		uploadDir:     uploadDir,
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload model.RegisterRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	view, err := h.service.Register(r.Context(), h.role, payload.Input(h.role))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, view, h.label+" registered successfully")
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Login(r.Context(), h.role, payload.Identifier(), payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.cookies.setSession(w, result.TokenPair)
	writeSuccess(w, http.StatusOK, result, h.label+" logged in successfully")
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	if err := h.service.Logout(r.Context(), h.role, principal.ID); err != nil {
		writeError(w, err)
		return
	}

	h.cookies.clearSession(w)
	writeSuccess(w, http.StatusOK, nil, h.label+" logged out successfully")
}

// RefreshToken reads the presented refresh token from the refreshToken
// cookie, then the JSON body, then the bearer header.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	presented := ""
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil {
		presented = strings.TrimSpace(cookie.Value)
	}

	if presented == "" && r.Body != nil && r.ContentLength != 0 {
		var payload model.RefreshRequest
		if err := decodeJSON(r, &payload); err != nil {
			writeError(w, err)
			return
		}
		presented = strings.TrimSpace(payload.RefreshToken)
	}

	if presented == "" {
		presented = middleware.BearerToken(r)
	}

	pair, err := h.service.Refresh(r.Context(), h.role, presented)
	if err != nil {
		writeError(w, err)
		return
	}

	h.cookies.setSession(w, pair)
	writeSuccess(w, http.StatusOK, pair, "Tokens refreshed successfully")
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var payload model.ChangePasswordRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), h.role, principal.ID, payload.OldPassword, payload.NewPassword); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, nil, h.label+" password updated successfully")
}

func (h *AuthHandler) Current(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	view, err := h.service.Current(r.Context(), h.role, principal.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, view, "Current "+string(h.role)+" details sent successfully")
}

func (h *AuthHandler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var payload model.UpdateDetailsRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	view, err := h.service.UpdateProfile(r.Context(), h.role, principal.ID, payload.Input())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, view, h.label+" details updated successfully")
}

func (h *AuthHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	localPath, err := h.saveUpload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := h.service.UpdateAvatar(r.Context(), h.role, principal.ID, localPath)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, view, "Avatar updated successfully")
}

// saveUpload spools the multipart "avatar" field to a local temp file. The
// service removes it once the avatar flow finishes.
func (h *AuthHandler) saveUpload(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxAvatarSize+(1<<20))
	defer r.Body.Close()

	file, header, err := r.FormFile("avatar")
	if err != nil {
		if isPayloadTooLarge(err) {
			return "", apierror.New(apierror.CodePayloadTooLarge, "avatar exceeds MAX_AVATAR_SIZE", "MAX_AVATAR_SIZE", http.StatusRequestEntityTooLarge)
		}
		return "", apierror.Validation("avatar file is required", "avatar")
	}
	defer file.Close()

	if header.Size > h.maxAvatarSize {
		return "", apierror.New(apierror.CodePayloadTooLarge, "avatar exceeds MAX_AVATAR_SIZE", "MAX_AVATAR_SIZE", http.StatusRequestEntityTooLarge)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !media.IsDecodableExtension(ext) {
		ext = ""
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", apierror.Internal(err, "failed to prepare upload directory")
	}

	tmp, err := os.CreateTemp(h.uploadDir, "upload-*"+ext)
	if err != nil {
		return "", apierror.Internal(err, "failed to store upload")
	}

	_, copyErr := io.Copy(tmp, io.LimitReader(file, h.maxAvatarSize+1))
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		return "", apierror.Internal(fmt.Errorf("spool avatar: %w", errors.Join(copyErr, closeErr)), "failed to store upload")
	}

	return tmp.Name(), nil
}

func (h *AuthHandler) principal(w http.ResponseWriter, r *http.Request) (model.PrincipalView, bool) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok || principal.User != h.role {
		writeError(w, apierror.Unauthorized("authentication required"))
		return model.PrincipalView{}, false
	}
	return principal, true
}

func isPayloadTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}
