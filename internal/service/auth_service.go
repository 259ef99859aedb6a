package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-exam-portal/internal/event"
	"go-exam-portal/internal/model"
	"go-exam-portal/pkg/apierror"
)

type PrincipalStore interface {
	FindByID(ctx context.Context, role model.Role, id string) (model.Principal, error)
	FindByLogin(ctx context.Context, role model.Role, login string) (model.Principal, error)
	FindConflict(ctx context.Context, role model.Role, email string, identifier string, excludeID string) (bool, error)
	Create(ctx context.Context, p model.Principal) error
	Update(ctx context.Context, p model.Principal) error
	UpdatePassword(ctx context.Context, role model.Role, id string, passwordHash string) error
	UpdateAvatar(ctx context.Context, role model.Role, id string, avatarURL string) error
}

type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext string, digest string) bool
}

type Sessions interface {
	Begin(ctx context.Context, role model.Role, id string) (model.TokenPair, error)
	End(ctx context.Context, role model.Role, id string) error
	Rotate(ctx context.Context, role model.Role, presented string) (model.TokenPair, error)
}

type BlobStore interface {
	Upload(ctx context.Context, localPath string) (string, error)
	Delete(ctx context.Context, url string) error
}

type AvatarNormalizer interface {
	Normalize(srcPath string) (string, error)
}

type AuthOptions struct {
	DefaultAvatarURL               string
	AvatarAllowFirstUpload         bool
	RevokeSessionsOnPasswordChange bool
}

// AuthService runs every authentication flow for all three roles. Role
// differences come from model.Descriptor, never from branching per caller.
type AuthService struct {
	store      PrincipalStore
	hasher     PasswordHasher
	sessions   Sessions
	blobs      BlobStore
	normalizer AvatarNormalizer
	bus        event.Bus
	opts       AuthOptions
}

func NewAuthService(store PrincipalStore, hasher PasswordHasher, sessions Sessions, blobs BlobStore, normalizer AvatarNormalizer, bus event.Bus, opts AuthOptions) *AuthService {
	return &AuthService{
		store:      store,
		hasher:     hasher,
		sessions:   sessions,
		blobs:      blobs,
		normalizer: normalizer,
		bus:        bus,
		opts:       opts,
	}
}

func (s *AuthService) Register(ctx context.Context, role model.Role, in model.RegisterInput) (model.PrincipalView, error) {
	desc := model.DescriptorFor(role)
	in = trimRegisterInput(in)

	if err := validateRegistration(desc, in); err != nil {
		return model.PrincipalView{}, err
	}

	conflict, err := s.store.FindConflict(ctx, role, in.Email, in.Identifier, "")
	if err != nil {
		return model.PrincipalView{}, err
	}
	if conflict {
		return model.PrincipalView{}, apierror.Wrap(model.ErrPrincipalAlreadyExists, apierror.CodeAlreadyExists,
			string(role)+" already exists", http.StatusBadRequest)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.PrincipalView{}, apierror.Internal(err, "failed to hash password")
	}

	now := time.Now().UTC()
	p := model.Principal{
		ID:           uuid.NewString(),
		Role:         role,
		Name:         in.Name,
		Email:        in.Email,
		Phone:        in.Phone,
		Avatar:       s.opts.DefaultAvatarURL,
		PasswordHash: digest,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if desc.HasIdentifier() {
		p.Identifier = in.Identifier
	}
	switch role {
	case model.RoleStudent:
		p.Course = in.Course
	case model.RoleTeacher:
		p.Department = in.Department
		p.Designation = in.Designation
	}

	if err := s.store.Create(ctx, p); err != nil {
		return model.PrincipalView{}, err
	}

	s.publish(event.New(event.TypePrincipalRegistered, role, p.ID))
	slog.Info("principal registered", "role", role, "id", p.ID)
	return p.View(), nil
}

// Login accepts the email or the role-specific identifier. An unknown login
// is reported as NOT_FOUND, a wrong password as INVALID_CREDENTIALS.
func (s *AuthService) Login(ctx context.Context, role model.Role, login string, password string) (model.LoginResult, error) {
	login = strings.TrimSpace(login)
	if login == "" || strings.TrimSpace(password) == "" {
		return model.LoginResult{}, apierror.Validation("all fields are required", "login, password")
	}

	p, err := s.store.FindByLogin(ctx, role, login)
	if err != nil {
		if errors.Is(err, model.ErrPrincipalNotFound) {
			s.publish(event.New(event.TypeLoginFailed, role, "").WithReason(apierror.CodeNotFound))
		}
		return model.LoginResult{}, err
	}

	if !s.hasher.Verify(password, p.PasswordHash) {
		s.publish(event.New(event.TypeLoginFailed, role, p.ID).WithReason(apierror.CodeInvalidCredentials))
		return model.LoginResult{}, apierror.Wrap(model.ErrInvalidCredentials, apierror.CodeInvalidCredentials,
			"invalid credentials", http.StatusUnauthorized)
	}

	pair, err := s.sessions.Begin(ctx, role, p.ID)
	if err != nil {
		return model.LoginResult{}, err
	}

	s.publish(event.New(event.TypeLoginSucceeded, role, p.ID))
	return model.LoginResult{Principal: p.View(), TokenPair: pair}, nil
}

func (s *AuthService) Logout(ctx context.Context, role model.Role, id string) error {
	if err := s.sessions.End(ctx, role, id); err != nil {
		return err
	}

	s.publish(event.New(event.TypeSessionEnded, role, id))
	return nil
}

// Refresh rotates a session of the given role; tokens minted for another
// role are rejected.
func (s *AuthService) Refresh(ctx context.Context, role model.Role, presented string) (model.TokenPair, error) {
	if strings.TrimSpace(presented) == "" {
		return model.TokenPair{}, apierror.Unauthorized("refresh token is required")
	}

	pair, err := s.sessions.Rotate(ctx, role, presented)
	if err != nil {
		s.publish(event.New(event.TypeSessionRotated, role, "").WithReason(apierror.CodeOf(err)))
		return model.TokenPair{}, err
	}

	s.publish(event.New(event.TypeSessionRotated, role, ""))
	return pair, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, role model.Role, id string, oldPassword string, newPassword string) error {
	if strings.TrimSpace(oldPassword) == "" || strings.TrimSpace(newPassword) == "" {
		return apierror.Validation("old and new password are required", "oldPassword, newPassword")
	}
	if err := validatePasswordLength(newPassword, "newPassword"); err != nil {
		return err
	}

	p, err := s.store.FindByID(ctx, role, id)
	if err != nil {
		return err
	}

	if !s.hasher.Verify(oldPassword, p.PasswordHash) {
		return apierror.New(apierror.CodeInvalidOldPassword, "invalid old password", "", http.StatusBadRequest)
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apierror.Internal(err, "failed to hash password")
	}

	if err := s.store.UpdatePassword(ctx, role, id, digest); err != nil {
		return err
	}

	if s.opts.RevokeSessionsOnPasswordChange {
		if err := s.sessions.End(ctx, role, id); err != nil {
			return err
		}
	}

	s.publish(event.New(event.TypePasswordChanged, role, id))
	return nil
}

func (s *AuthService) Current(ctx context.Context, role model.Role, id string) (model.PrincipalView, error) {
	p, err := s.store.FindByID(ctx, role, id)
	if err != nil {
		return model.PrincipalView{}, err
	}
	return p.View(), nil
}

// UpdateProfile merges the non-empty fields of in onto the stored record.
// Fields that do not apply to role are ignored.
func (s *AuthService) UpdateProfile(ctx context.Context, role model.Role, id string, in model.ProfileInput) (model.PrincipalView, error) {
	desc := model.DescriptorFor(role)
	in = applicableProfile(role, trimProfileInput(in))
	if in.Empty() {
		return model.PrincipalView{}, apierror.Validation("at least one field is required", "")
	}

	if err := validateProfile(desc, in); err != nil {
		return model.PrincipalView{}, err
	}

	p, err := s.store.FindByID(ctx, role, id)
	if err != nil {
		return model.PrincipalView{}, err
	}

	if in.Email != "" && !strings.EqualFold(in.Email, p.Email) {
		conflict, err := s.store.FindConflict(ctx, role, in.Email, "", id)
		if err != nil {
			return model.PrincipalView{}, err
		}
		if conflict {
			return model.PrincipalView{}, apierror.Wrap(model.ErrPrincipalAlreadyExists, apierror.CodeAlreadyExists,
				"email is already in use", http.StatusBadRequest)
		}
	}

	mergeProfile(&p, in)
	if err := s.store.Update(ctx, p); err != nil {
		return model.PrincipalView{}, err
	}

	s.publish(event.New(event.TypeProfileUpdated, role, id))
	return s.Current(ctx, role, id)
}

// UpdateAvatar replaces the principal's avatar with the image at localPath.
// localPath is always removed. The previous blob is deleted only after the
// new URL is persisted, and failures to delete it are logged.
func (s *AuthService) UpdateAvatar(ctx context.Context, role model.Role, id string, localPath string) (model.PrincipalView, error) {
	defer removeLocal(localPath)

	if strings.TrimSpace(localPath) == "" {
		return model.PrincipalView{}, apierror.Validation("avatar file is required", "avatar")
	}

	p, err := s.store.FindByID(ctx, role, id)
	if err != nil {
		return model.PrincipalView{}, err
	}

	if p.Avatar == "" && !s.opts.AvatarAllowFirstUpload {
		return model.PrincipalView{}, apierror.New(apierror.CodePreconditionFailed, "no existing avatar to replace", "", http.StatusPreconditionFailed)
	}

	normalized, err := s.normalizer.Normalize(localPath)
	if err != nil {
		return model.PrincipalView{}, err
	}
	defer removeLocal(normalized)

	url, err := s.blobs.Upload(ctx, normalized)
	if err != nil {
		return model.PrincipalView{}, apierror.Internal(err, "failed to upload avatar")
	}

	if err := s.store.UpdateAvatar(ctx, role, id, url); err != nil {
		s.deleteBlob(ctx, url)
		return model.PrincipalView{}, err
	}

	if old := p.Avatar; old != "" && old != s.opts.DefaultAvatarURL && old != url {
		s.deleteBlob(ctx, old)
	}

	s.publish(event.New(event.TypeAvatarUpdated, role, id))
	return s.Current(ctx, role, id)
}

func (s *AuthService) deleteBlob(ctx context.Context, url string) {
	if err := s.blobs.Delete(ctx, url); err != nil {
		slog.Warn("failed to delete avatar blob", "url", url, "error", err)
	}
}

func (s *AuthService) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

func removeLocal(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove local upload", "path", path, "error", err)
	}
}

func trimRegisterInput(in model.RegisterInput) model.RegisterInput {
	return model.RegisterInput{
		Name:        strings.TrimSpace(in.Name),
		Email:       strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:       strings.TrimSpace(in.Phone),
		Password:    in.Password,
		Identifier:  strings.TrimSpace(in.Identifier),
		Course:      strings.TrimSpace(in.Course),
		Department:  strings.TrimSpace(in.Department),
		Designation: strings.TrimSpace(in.Designation),
	}
}

func trimProfileInput(in model.ProfileInput) model.ProfileInput {
	return model.ProfileInput{
		Name:        strings.TrimSpace(in.Name),
		Email:       strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:       strings.TrimSpace(in.Phone),
		Course:      strings.TrimSpace(in.Course),
		Department:  strings.TrimSpace(in.Department),
		Designation: strings.TrimSpace(in.Designation),
	}
}

type requiredField struct {
	field string
	value string
}

func validateRegistration(desc model.Descriptor, in model.RegisterInput) error {
	required := []requiredField{
		{"name", in.Name},
		{"email", in.Email},
		{"phone", in.Phone},
		{"password", strings.TrimSpace(in.Password)},
	}
	if desc.HasIdentifier() {
		required = append(required, requiredField{desc.IdentifierField, in.Identifier})
	}

	for _, r := range required {
		if r.value == "" {
			return apierror.Validation("all fields are required", r.field)
		}
	}

	if !strings.Contains(in.Email, "@") {
		return apierror.Validation("email is invalid", "email")
	}

	if err := validatePasswordLength(in.Password, "password"); err != nil {
		return err
	}

	return validateVocabulary(desc, in.Course, in.Department, in.Designation, true)
}

// bcrypt rejects passwords longer than this.
const maxPasswordBytes = 72

func validatePasswordLength(password string, field string) error {
	if len(password) > maxPasswordBytes {
		return apierror.Validation(fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes), field)
	}
	return nil
}

func validateProfile(desc model.Descriptor, in model.ProfileInput) error {
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return apierror.Validation("email is invalid", "email")
	}
	return validateVocabulary(desc, in.Course, in.Department, in.Designation, false)
}

// validateVocabulary checks the closed profile vocabularies of desc. When
// required is set, every vocabulary the role has must be filled.
func validateVocabulary(desc model.Descriptor, course string, department string, designation string, required bool) error {
	checks := []struct {
		field   string
		value   string
		allowed []string
	}{
		{"course", course, desc.Courses},
		{"department", department, desc.Departments},
		{"role", designation, desc.Designations},
	}

	for _, c := range checks {
		if len(c.allowed) == 0 {
			continue
		}
		if c.value == "" {
			if required {
				return apierror.Validation("all fields are required", c.field)
			}
			continue
		}
		if !slices.Contains(c.allowed, c.value) {
			return apierror.Validation(fmt.Sprintf("%s must be one of %s", c.field, strings.Join(c.allowed, ", ")), c.field)
		}
	}
	return nil
}

func applicableProfile(role model.Role, in model.ProfileInput) model.ProfileInput {
	switch role {
	case model.RoleStudent:
		in.Department, in.Designation = "", ""
	case model.RoleTeacher:
		in.Course = ""
	default:
		in.Course, in.Department, in.Designation = "", "", ""
	}
	return in
}

func mergeProfile(p *model.Principal, in model.ProfileInput) {
	if in.Name != "" {
		p.Name = in.Name
	}
	if in.Email != "" {
		p.Email = in.Email
	}
	if in.Phone != "" {
		p.Phone = in.Phone
	}
	if in.Course != "" {
		p.Course = in.Course
	}
	if in.Department != "" {
		p.Department = in.Department
	}
	if in.Designation != "" {
		p.Designation = in.Designation
	}
}
