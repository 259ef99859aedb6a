// Package token signs and verifies the two token classes handed to
// principals. Access tokens carry a profile snapshot; refresh tokens carry
// only the principal id and role tag. Each class has its own secret and TTL.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-exam-portal/internal/model"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

type AccessClaims struct {
	PrincipalID      string     `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	Phone            string     `json:"phone"`
	UniversityRollNo string     `json:"universityRollNo,omitempty"`
	Course           string     `json:"course,omitempty"`
	EmployeeID       string     `json:"employeeId,omitempty"`
	Department       string     `json:"department,omitempty"`
	Designation      string     `json:"role,omitempty"`
	User             model.Role `json:"user"`
	Type             string     `json:"typ"`
	jwt.RegisteredClaims
}

// Validate is called by the jwt parser after the registered claims pass.
func (c AccessClaims) Validate() error {
	return validateClass(c.Type, TypeAccess, c.PrincipalID)
}

type RefreshClaims struct {
	PrincipalID string     `json:"id"`
	User        model.Role `json:"user"`
	Type        string     `json:"typ"`
	jwt.RegisteredClaims
}

func (c RefreshClaims) Validate() error {
	return validateClass(c.Type, TypeRefresh, c.PrincipalID)
}

func validateClass(got string, want string, principalID string) error {
	if got != want {
		return fmt.Errorf("token class %q, want %q", got, want)
	}
	if strings.TrimSpace(principalID) == "" {
		return errors.New("token has no principal id")
	}
	return nil
}

type Codec struct {
	cfg Config
	now func() time.Time
}

func NewCodec(cfg Config) (*Codec, error) {
	if strings.TrimSpace(cfg.AccessSecret) == "" || strings.TrimSpace(cfg.RefreshSecret) == "" {
		return nil, errors.New("token secrets are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}

	return &Codec{cfg: cfg, now: time.Now}, nil
}

// WithClock returns a copy of the codec that issues and validates against now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	clone := *c
	clone.now = now
	return &clone
}

func (c *Codec) AccessTTL() time.Duration {
	return c.cfg.AccessTTL
}

func (c *Codec) RefreshTTL() time.Duration {
	return c.cfg.RefreshTTL
}

func (c *Codec) IssueAccess(p model.Principal) (string, error) {
	claims := AccessClaims{
		PrincipalID:      p.ID,
		Name:             p.Name,
		Email:            p.Email,
		Phone:            p.Phone,
		User:             p.Role,
		Type:             TypeAccess,
		RegisteredClaims: c.registered(p.ID, c.cfg.AccessTTL),
	}

	switch p.Role {
	case model.RoleStudent:
		claims.UniversityRollNo = p.Identifier
		claims.Course = p.Course
	case model.RoleTeacher:
		claims.EmployeeID = p.Identifier
		claims.Department = p.Department
		claims.Designation = p.Designation
	}

	return sign(claims, c.cfg.AccessSecret)
}

func (c *Codec) IssueRefresh(p model.Principal) (string, error) {
	return sign(RefreshClaims{
		PrincipalID:      p.ID,
		User:             p.Role,
		Type:             TypeRefresh,
		RegisteredClaims: c.registered(p.ID, c.cfg.RefreshTTL),
	}, c.cfg.RefreshSecret)
}

func (c *Codec) VerifyAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.Verify(raw, c.cfg.AccessSecret, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) VerifyRefresh(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.Verify(raw, c.cfg.RefreshSecret, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Verify parses raw into claims using secret. It returns an error wrapping
// model.ErrTokenExpired only when the signature is valid and the token has
// expired; every other failure wraps model.ErrTokenInvalid.
func (c *Codec) Verify(raw string, secret string, claims jwt.Claims) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: empty token", model.ErrTokenInvalid)
	}

	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", model.ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %v", model.ErrTokenInvalid, err)
	}
}

func (c *Codec) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := c.now().UTC()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    c.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func sign(claims jwt.Claims, secret string) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
