package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-exam-portal/internal/blob"
	"go-exam-portal/internal/config"
	"go-exam-portal/internal/credential"
	"go-exam-portal/internal/handler"
	"go-exam-portal/internal/media"
	"go-exam-portal/internal/metrics"
	"go-exam-portal/internal/middleware"
	"go-exam-portal/internal/model"
	"go-exam-portal/internal/repository"
	"go-exam-portal/internal/resolver"
	"go-exam-portal/internal/service"
	"go-exam-portal/internal/session"
	"go-exam-portal/internal/token"
)

const avatarBaseURL = "http://portal.test/static/avatars"

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

type testServer struct {
	handler http.Handler
	store   *repository.MemoryPrincipalRepository
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) testServer {
	t.Helper()

	cfg := &config.Config{
		RequestTimeout:   5 * time.Second,
		CORSOrigins:      []string{"http://localhost:3000"},
		RateLimitRPM:     1000,
		AuthRateLimitRPM: 1000,
		MaxAvatarSize:    1 << 20,
		AvatarSize:       32,
		DefaultAvatarURL: avatarBaseURL + "/default.jpg",
	}
	if mutate != nil {
		mutate(cfg)
	}

	codec, err := token.NewCodec(token.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
	})
	require.NoError(t, err)

	blobs, err := blob.NewLocalStore(t.TempDir(), avatarBaseURL)
	require.NoError(t, err)

	store := repository.NewMemoryPrincipalRepository()
	svc := service.NewAuthService(store, credential.NewHasher(bcrypt.MinCost), session.NewManager(store, codec),
		blobs, media.NewNormalizer(cfg.AvatarSize), nil, service.AuthOptions{
			DefaultAvatarURL:       cfg.DefaultAvatarURL,
			AvatarAllowFirstUpload: cfg.AvatarAllowFirstUpload,
		})

	cookies := handler.CookieConfig{AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour}
	uploads := t.TempDir()
	handlers := Handlers{
		Students: handler.NewAuthHandler(svc, model.RoleStudent, cookies, cfg.MaxAvatarSize, uploads),
		Teachers: handler.NewAuthHandler(svc, model.RoleTeacher, cookies, cfg.MaxAvatarSize, uploads),
		Admins:   handler.NewAuthHandler(svc, model.RoleAdmin, cookies, cfg.MaxAvatarSize, uploads),
	}

	recorder := metrics.NewRecorder()
	h := New(cfg, middleware.NewAuthMiddleware(codec, resolver.New(store)), handlers, blobs.RootAbs(), Observability{
		Metrics:  recorder.Handler(),
		Observer: recorder,
	})

	return testServer{handler: h, store: store}
}

func (s testServer) do(t *testing.T, method string, path string, body any, bearer string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	return s.serve(t, req)
}

func (s testServer) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func registerStudent(t *testing.T, s testServer) {
	t.Helper()

	rec, env := s.do(t, http.MethodPost, "/api/v1/students/register", map[string]string{
		"name":             "Asha",
		"email":            "asha@x.com",
		"phone":            "555-0100",
		"password":         "p1",
		"universityRollNo": "A1",
		"course":           "BCA",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.True(t, env.Success)
	require.Equal(t, "Student registered successfully", env.Message)
}

func loginStudent(t *testing.T, s testServer) model.LoginResult {
	t.Helper()

	rec, env := s.do(t, http.MethodPost, "/api/v1/students/login", map[string]string{
		"universityRollNo": "A1",
		"password":         "p1",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result model.LoginResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	return result
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	rec, _ := s.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestRegisterNeverReturnsSecrets(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	registerStudent(t, s)

	rec, env := s.do(t, http.MethodPost, "/api/v1/students/register", map[string]string{
		"name": "Asha", "email": "ASHA@x.com", "phone": "1", "password": "p", "universityRollNo": "A2", "course": "BCA",
	}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "ALREADY_EXISTS", env.Error.Code)

	stored, err := s.store.FindByLogin(t.Context(), model.RoleStudent, "A1")
	require.NoError(t, err)
	require.Equal(t, avatarBaseURL+"/default.jpg", stored.Avatar)
	require.NotEqual(t, "p1", stored.PasswordHash)
}

func TestLoginSetsCookiesAndReturnsTokens(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	registerStudent(t, s)

	rec, env := s.do(t, http.MethodPost, "/api/v1/students/login", map[string]string{
		"email":    "ASHA@x.com",
		"password": "p1",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Student logged in successfully", env.Message)
	require.NotContains(t, string(env.Data), "passwordHash")
	require.NotContains(t, string(env.Data), "$2a$")

	var result model.LoginResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.Equal(t, "A1", result.Principal.UniversityRollNo)
	require.Equal(t, "Bearer", result.TokenType)

	cookies := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c
	}
	require.Contains(t, cookies, "accessToken")
	require.Contains(t, cookies, "refreshToken")
	assert.True(t, cookies["accessToken"].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies["refreshToken"].SameSite)
	assert.Equal(t, result.AccessToken, cookies["accessToken"].Value)
}

func TestLoginFailures(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	registerStudent(t, s)

	rec, env := s.do(t, http.MethodPost, "/api/v1/students/login", map[string]string{"email": "asha@x.com", "password": "wrong"}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)

	rec, env = s.do(t, http.MethodPost, "/api/v1/students/login", map[string]string{"email": "nobody@x.com", "password": "p1"}, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", env.Error.Code)

	rec, env = s.do(t, http.MethodPost, "/api/v1/teachers/login", map[string]string{"email": "asha@x.com", "password": "p1"}, "")
	require.Equal(t, http.StatusNotFound, rec.Code, "a student cannot log in as a teacher")
	require.False(t, env.Success)
}

func TestCurrentRequiresMatchingRole(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	registerStudent(t, s)
	login := loginStudent(t, s)

	rec, env := s.do(t, http.MethodGet, "/api/v1/students/current", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Current student details sent successfully", env.Message)

	rec, env = s.do(t, http.MethodGet, "/api/v1/teachers/current", nil, login.AccessToken)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "FORBIDDEN", env.Error.Code)

	rec, env = s.do(t, http.MethodGet, "/api/v1/students/current", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHORIZED", env.Error.Code)

	rec, env = s.do(t, http.MethodGet, "/api/v1/students/current", nil, login.RefreshToken)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "TOKEN_INVALID", env.Error.Code)
}

func TestRefreshRotatesAndLogoutRevokes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	registerStudent(t, s)
	login := loginStudent(t, s)

	rec, env := s.do(t, http.MethodPost, "/api/v1/students/refresh-token", map[string]string{"refreshToken": login.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Tokens refreshed successfully", env.Message)

	var rotated model.TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &rotated))
	require.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	rec, env = s.do(t, http.MethodPost, "/api/v1/students/refresh-token", map[string]string{"refreshToken": login.RefreshToken}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code, "a rotated refresh token is single use")
	require.Equal(t, "UNAUTHORIZED", env.Error.Code)

	rec, env = s.do(t, http.MethodPost, "/api/v1/students/logout", nil, rotated.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Student logged out successfully", env.Message)
	for _, c := range rec.Result().Cookies() {
		assert.Empty(t, c.Value, c.Name)
		assert.Negative(t, c.MaxAge, c.Name)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/students/refresh-token", nil)
	req.AddCookie(&http.Cookie{Name: "refreshToken", Value: rotated.RefreshToken})
	rec, env = s.serve(t, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHORIZED", env.Error.Code)
}

func TestRefreshIsScopedToCollection(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	registerStudent(t, s)
	login := loginStudent(t, s)

	for _, path := range []string{"/api/v1/teachers/refresh-token", "/api/v1/admins/refresh-token"} {
		rec, env := s.do(t, http.MethodPost, path, map[string]string{"refreshToken": login.RefreshToken}, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
		require.Equal(t, "UNAUTHORIZED", env.Error.Code, path)
	}

	rec, _ := s.do(t, http.MethodPost, "/api/v1/students/refresh-token", map[string]string{"refreshToken": login.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code, "rejected attempts leave the session intact")
}

func TestRefreshWithoutToken(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	rec, env := s.do(t, http.MethodPost, "/api/v1/teachers/refresh-token", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHORIZED", env.Error.Code)
}

func TestChangePasswordAndUpdateDetails(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	registerStudent(t, s)
	login := loginStudent(t, s)

	rec, env := s.do(t, http.MethodPost, "/api/v1/students/change-password", map[string]string{"oldPassword": "bad", "newPassword": "p9"}, login.AccessToken)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_OLD_PASSWORD", env.Error.Code)

	rec, env = s.do(t, http.MethodPost, "/api/v1/students/change-password", map[string]string{"oldPassword": "p1", "newPassword": "p9"}, login.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Student password updated successfully", env.Message)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/students/login", map[string]string{"email": "asha@x.com", "password": "p9"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = s.do(t, http.MethodPatch, "/api/v1/students/update-details", map[string]string{}, login.AccessToken)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rec, env = s.do(t, http.MethodPatch, "/api/v1/students/update-details", map[string]string{"course": "MCA", "name": "Asha K"}, login.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Student details updated successfully", env.Message)

	var view model.PrincipalView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Equal(t, "MCA", view.Course)
	require.Equal(t, "Asha K", view.Name)
}

func TestAdminRegistrationRequiresAdmin(t *testing.T) {
	t.Parallel()

	admin := map[string]string{"name": "Root", "email": "root@x.com", "phone": "1", "password": "pw"}

	s := newTestServer(t, nil)
	rec, env := s.do(t, http.MethodPost, "/api/v1/admins/register", admin, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHORIZED", env.Error.Code)

	open := newTestServer(t, func(cfg *config.Config) { cfg.AllowAdminSelfRegistration = true })
	rec, env = open.do(t, http.MethodPost, "/api/v1/admins/register", admin, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "Admin registered successfully", env.Message)

	rec, env = open.do(t, http.MethodPost, "/api/v1/admins/login", map[string]string{"email": "root@x.com", "password": "pw"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var login model.LoginResult
	require.NoError(t, json.Unmarshal(env.Data, &login))

	rec, _ = s.do(t, http.MethodPost, "/api/v1/admins/register", admin, login.AccessToken)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "tokens from another deployment's store do not resolve")
}

func TestAvatarUploadIsServedStatically(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	registerStudent(t, s)
	login := loginStudent(t, s)

	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	img.Set(2, 2, color.RGBA{G: 255, A: 255})

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("avatar", "me.png")
	require.NoError(t, err)
	require.NoError(t, png.Encode(part, img))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/students/avatar", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: login.AccessToken})
	rec, env := s.serve(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Avatar updated successfully", env.Message)

	var view model.PrincipalView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.True(t, strings.HasPrefix(view.Avatar, avatarBaseURL+"/"), view.Avatar)

	rec, _ = s.do(t, http.MethodGet, strings.TrimPrefix(view.Avatar, "http://portal.test"), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
}

func TestAvatarRejectsMissingAndNonImageUploads(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	registerStudent(t, s)
	login := loginStudent(t, s)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("avatar", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("plain text, not an image"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/students/avatar", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec, env := s.serve(t, req)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code, rec.Body.String())
	require.Equal(t, "UNSUPPORTED_MEDIA_TYPE", env.Error.Code)

	rec, env = s.do(t, http.MethodPatch, "/api/v1/students/avatar", map[string]string{}, login.AccessToken)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	s.do(t, http.MethodGet, "/health", nil, "")

	rec, _ := s.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "examportal_http_request_duration_seconds")
}

func TestCookieSessionOverHTTPServer(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	server := httptest.NewServer(s.handler)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	post := func(path string, payload any) *http.Response {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		resp, err := client.Post(server.URL+path, "application/json", bytes.NewReader(raw))
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := post("/api/v1/teachers/register", map[string]string{
		"name": "Ravi", "email": "ravi@x.com", "phone": "555", "password": "p2",
		"employeeId": "E-42", "department": "CSE", "role": "HOD",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = post("/api/v1/teachers/login", map[string]string{"employeeId": "E-42", "password": "p2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	current, err := client.Get(server.URL + "/api/v1/teachers/current")
	require.NoError(t, err)
	t.Cleanup(func() { _ = current.Body.Close() })
	require.Equal(t, http.StatusOK, current.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(current.Body).Decode(&env))
	var view model.PrincipalView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Equal(t, "E-42", view.EmployeeID)
	require.Equal(t, "HOD", view.Designation)

	resp = post("/api/v1/teachers/refresh-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post("/api/v1/teachers/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	after, err := client.Get(server.URL + "/api/v1/teachers/current")
	require.NoError(t, err)
	t.Cleanup(func() { _ = after.Body.Close() })
	require.Equal(t, http.StatusUnauthorized, after.StatusCode)
}

func TestHealthReportsStoreFailure(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{RequestTimeout: time.Second}
	h := New(cfg, middleware.NewAuthMiddleware(nil, nil), Handlers{}, "", Observability{
		Health: func(context.Context) error { return errors.New("connection refused") },
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
