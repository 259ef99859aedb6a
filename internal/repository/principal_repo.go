package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-exam-portal/internal/model"
)

const principalColumns = `id, role, name, email, phone, identifier, course, department, designation,
	avatar, password_hash, refresh_token, created_at, updated_at`

// PrincipalRepository persists principals of every role in Postgres. Every
// query is scoped by role so the same id never resolves across roles.
type PrincipalRepository struct {
	pool *pgxpool.Pool
}

func NewPrincipalRepository(pool *pgxpool.Pool) *PrincipalRepository {
	return &PrincipalRepository{pool: pool}
}

func (r *PrincipalRepository) FindByID(ctx context.Context, role model.Role, id string) (model.Principal, error) {
	p, err := scanPrincipal(r.pool.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE role = $1 AND id = $2`, role, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Principal{}, notFound(role, id)
	}
	if err != nil {
		return model.Principal{}, fmt.Errorf("find principal by id: %w", err)
	}
	return p, nil
}

// FindByLogin matches login against the email (case-insensitive) or the
// role's identifier. An email match wins when both match different rows.
func (r *PrincipalRepository) FindByLogin(ctx context.Context, role model.Role, login string) (model.Principal, error) {
	login = strings.TrimSpace(login)
	p, err := scanPrincipal(r.pool.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM principals
		 WHERE role = $1 AND (lower(email) = lower($2) OR identifier = $2)
		 ORDER BY (lower(email) = lower($2)) DESC
		 LIMIT 1`, role, login))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Principal{}, notFound(role, "")
	}
	if err != nil {
		return model.Principal{}, fmt.Errorf("find principal by login: %w", err)
	}
	return p, nil
}

func (r *PrincipalRepository) FindConflict(ctx context.Context, role model.Role, email string, identifier string, excludeID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM principals
			WHERE role = $1 AND id <> $4
			  AND (lower(email) = lower($2) OR ($3 <> '' AND identifier = $3))
		)`, role, strings.TrimSpace(email), strings.TrimSpace(identifier), excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check principal conflict: %w", err)
	}
	return exists, nil
}

func (r *PrincipalRepository) Create(ctx context.Context, p model.Principal) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO principals (`+principalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.Role, p.Name, p.Email, p.Phone, nullable(p.Identifier), p.Course, p.Department,
		p.Designation, p.Avatar, p.PasswordHash, nullable(deref(p.RefreshToken)), p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return alreadyExists(p.Role)
	}
	if err != nil {
		return fmt.Errorf("create principal: %w", err)
	}
	return nil
}

// Update writes the profile fields only. Credentials, tokens and the avatar
// have their own methods.
func (r *PrincipalRepository) Update(ctx context.Context, p model.Principal) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE principals
		 SET name = $3, email = $4, phone = $5, course = $6, department = $7, designation = $8, updated_at = $9
		 WHERE role = $1 AND id = $2`,
		p.Role, p.ID, p.Name, p.Email, p.Phone, p.Course, p.Department, p.Designation, time.Now().UTC())
	if isUniqueViolation(err) {
		return alreadyExists(p.Role)
	}
	if err != nil {
		return fmt.Errorf("update principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(p.Role, p.ID)
	}
	return nil
}

func (r *PrincipalRepository) UpdatePassword(ctx context.Context, role model.Role, id string, passwordHash string) error {
	return r.exec(ctx, role, id, "update password",
		`UPDATE principals SET password_hash = $3, updated_at = $4 WHERE role = $1 AND id = $2`,
		passwordHash, time.Now().UTC())
}

// SetRefreshToken stores token as the principal's only live refresh token.
// An empty token clears the session.
func (r *PrincipalRepository) SetRefreshToken(ctx context.Context, role model.Role, id string, token string) error {
	return r.exec(ctx, role, id, "set refresh token",
		`UPDATE principals SET refresh_token = $3, updated_at = $4 WHERE role = $1 AND id = $2`,
		nullable(token), time.Now().UTC())
}

func (r *PrincipalRepository) UpdateAvatar(ctx context.Context, role model.Role, id string, avatarURL string) error {
	return r.exec(ctx, role, id, "update avatar",
		`UPDATE principals SET avatar = $3, updated_at = $4 WHERE role = $1 AND id = $2`,
		avatarURL, time.Now().UTC())
}

func (r *PrincipalRepository) Delete(ctx context.Context, role model.Role, id string) error {
	return r.exec(ctx, role, id, "delete principal",
		`DELETE FROM principals WHERE role = $1 AND id = $2`)
}

func (r *PrincipalRepository) Count(ctx context.Context, role model.Role) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM principals WHERE role = $1`, role).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count principals: %w", err)
	}
	return count, nil
}

func (r *PrincipalRepository) exec(ctx context.Context, role model.Role, id string, op string, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, append([]any{role, id}, args...)...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(role, id)
	}
	return nil
}

func scanPrincipal(row pgx.Row) (model.Principal, error) {
	var (
		p          model.Principal
		identifier *string
	)
	err := row.Scan(&p.ID, &p.Role, &p.Name, &p.Email, &p.Phone, &identifier, &p.Course, &p.Department,
		&p.Designation, &p.Avatar, &p.PasswordHash, &p.RefreshToken, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.Principal{}, err
	}
	p.Identifier = deref(identifier)
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
