package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go-exam-portal/internal/model"
)

// SQLitePrincipalRepository is the single-file store used for local
// deployments. Timestamps are stored as RFC 3339 text.
type SQLitePrincipalRepository struct {
	db *sql.DB
}

func NewSQLitePrincipalRepository(db *sql.DB) *SQLitePrincipalRepository {
	return &SQLitePrincipalRepository{db: db}
}

func (r *SQLitePrincipalRepository) FindByID(ctx context.Context, role model.Role, id string) (model.Principal, error) {
	p, err := r.queryOne(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE role = ? AND id = ?`, string(role), id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Principal{}, notFound(role, id)
	}
	if err != nil {
		return model.Principal{}, fmt.Errorf("find principal by id: %w", err)
	}
	return p, nil
}

func (r *SQLitePrincipalRepository) FindByLogin(ctx context.Context, role model.Role, login string) (model.Principal, error) {
	login = strings.TrimSpace(login)
	p, err := r.queryOne(ctx,
		`SELECT `+principalColumns+` FROM principals
		 WHERE role = ?1 AND (lower(email) = lower(?2) OR identifier = ?2)
		 ORDER BY (lower(email) = lower(?2)) DESC
		 LIMIT 1`, string(role), login)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Principal{}, notFound(role, "")
	}
	if err != nil {
		return model.Principal{}, fmt.Errorf("find principal by login: %w", err)
	}
	return p, nil
}

func (r *SQLitePrincipalRepository) FindConflict(ctx context.Context, role model.Role, email string, identifier string, excludeID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM principals
			WHERE role = ?1 AND id <> ?4
			  AND (lower(email) = lower(?2) OR (?3 <> '' AND identifier = ?3))
		)`, string(role), strings.TrimSpace(email), strings.TrimSpace(identifier), excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check principal conflict: %w", err)
	}
	return exists, nil
}

func (r *SQLitePrincipalRepository) Create(ctx context.Context, p model.Principal) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO principals (`+principalColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Role), p.Name, p.Email, p.Phone, nullable(p.Identifier), p.Course, p.Department,
		p.Designation, p.Avatar, p.PasswordHash, nullable(deref(p.RefreshToken)),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if isSQLiteUnique(err) {
		return alreadyExists(p.Role)
	}
	if err != nil {
		return fmt.Errorf("create principal: %w", err)
	}
	return nil
}

func (r *SQLitePrincipalRepository) Update(ctx context.Context, p model.Principal) error {
	err := r.exec(ctx, p.Role, p.ID, "update principal",
		`UPDATE principals
		 SET name = ?3, email = ?4, phone = ?5, course = ?6, department = ?7, designation = ?8, updated_at = ?9
		 WHERE role = ?1 AND id = ?2`,
		p.Name, p.Email, p.Phone, p.Course, p.Department, p.Designation, formatTime(time.Now()))
	if isSQLiteUnique(err) {
		return alreadyExists(p.Role)
	}
	return err
}

func (r *SQLitePrincipalRepository) UpdatePassword(ctx context.Context, role model.Role, id string, passwordHash string) error {
	return r.exec(ctx, role, id, "update password",
		`UPDATE principals SET password_hash = ?3, updated_at = ?4 WHERE role = ?1 AND id = ?2`,
		passwordHash, formatTime(time.Now()))
}

func (r *SQLitePrincipalRepository) SetRefreshToken(ctx context.Context, role model.Role, id string, token string) error {
	return r.exec(ctx, role, id, "set refresh token",
		`UPDATE principals SET refresh_token = ?3, updated_at = ?4 WHERE role = ?1 AND id = ?2`,
		nullable(token), formatTime(time.Now()))
}

func (r *SQLitePrincipalRepository) UpdateAvatar(ctx context.Context, role model.Role, id string, avatarURL string) error {
	return r.exec(ctx, role, id, "update avatar",
		`UPDATE principals SET avatar = ?3, updated_at = ?4 WHERE role = ?1 AND id = ?2`,
		avatarURL, formatTime(time.Now()))
}

func (r *SQLitePrincipalRepository) Delete(ctx context.Context, role model.Role, id string) error {
	return r.exec(ctx, role, id, "delete principal",
		`DELETE FROM principals WHERE role = ?1 AND id = ?2`)
}

func (r *SQLitePrincipalRepository) Count(ctx context.Context, role model.Role) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM principals WHERE role = ?`, string(role)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count principals: %w", err)
	}
	return count, nil
}

func (r *SQLitePrincipalRepository) exec(ctx context.Context, role model.Role, id string, op string, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, append([]any{string(role), id}, args...)...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return notFound(role, id)
	}
	return nil
}

func (r *SQLitePrincipalRepository) queryOne(ctx context.Context, query string, args ...any) (model.Principal, error) {
	var (
		p                    model.Principal
		role                 string
		identifier, refresh  sql.NullString
		createdAt, updatedAt string
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&p.ID, &role, &p.Name, &p.Email, &p.Phone,
		&identifier, &p.Course, &p.Department, &p.Designation, &p.Avatar, &p.PasswordHash, &refresh,
		&createdAt, &updatedAt)
	if err != nil {
		return model.Principal{}, err
	}

	p.Role = model.Role(role)
	p.Identifier = identifier.String
	if refresh.Valid {
		token := refresh.String
		p.RefreshToken = &token
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
