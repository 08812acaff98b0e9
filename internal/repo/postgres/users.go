package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/geocoder89/loanhub/internal/domain/user"
	"github.com/geocoder89/loanhub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, password_hash, first_name, last_name, date_of_birth,
	COALESCE(phone, ''), COALESCE(address, ''), role, created_at, updated_at`

type UsersRepo struct {
	base
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{base{pool: pool, prom: prom}}
}

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User
	var role string

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&u.DateOfBirth,
		&u.Phone,
		&u.Address,
		&role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}

	u.Role = user.Role(role)
	return u, nil
}

func (r *UsersRepo) Create(ctx context.Context, in user.NewUser) (u user.User, err error) {
	role := in.Role
	if role == "" {
		role = user.RoleUser
	}

	now := time.Now().UTC()

	err = r.observe("users.create", func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx, `
			INSERT INTO users (id, email, password_hash, first_name, last_name, date_of_birth, phone, address, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $10)
			RETURNING `+userColumns,
			uuid.NewString(), user.NormalizeEmail(in.Email), in.PasswordHash,
			in.FirstName, in.LastName, in.DateOfBirth,
			strings.TrimSpace(in.Phone), in.Address, string(role), now,
		))
		return e
	})

	if isUniqueViolation(err) {
		return user.User{}, user.ErrAlreadyExists
	}
	return u, err
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (u user.User, err error) {
	err = r.observe("users.get_by_email", func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE email = $1`,
			user.NormalizeEmail(email),
		))
		return e
	})
	return u, err
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (u user.User, err error) {
	err = r.observe("users.get_by_id", func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
		))
		return e
	})
	if isInvalidText(err) {
		return user.User{}, user.ErrNotFound
	}
	return u, err
}

// UpdateContact changes phone and/or address. A nil field is left as is; an
// empty string clears it.
func (r *UsersRepo) UpdateContact(ctx context.Context, id string, phone, address *string) (u user.User, err error) {
	if phone != nil {
		trimmed := strings.TrimSpace(*phone)
		phone = &trimmed
	}

	err = r.observe("users.update_contact", func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx, `
			UPDATE users SET
				phone   = CASE WHEN $2::text IS NULL THEN phone ELSE NULLIF($2::text, '') END,
				address = CASE WHEN $3::text IS NULL THEN address ELSE NULLIF($3::text, '') END,
				updated_at = now()
			WHERE id = $1
			RETURNING `+userColumns,
			id, phone, address,
		))
		return e
	})

	if isUniqueViolation(err) {
		return user.User{}, user.ErrAlreadyExists
	}
	if isInvalidText(err) {
		return user.User{}, user.ErrNotFound
	}
	return u, err
}

// GetRole reads the role column; it is the only source of admin rights.
func (r *UsersRepo) GetRole(ctx context.Context, id string) (role user.Role, err error) {
	err = r.observe("users.get_role", func() error {
		var raw string
		e := r.pool.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, id).Scan(&raw)
		if errors.Is(e, pgx.ErrNoRows) {
			return user.ErrNotFound
		}
		role = user.Role(raw)
		return e
	})
	if isInvalidText(err) {
		return "", user.ErrNotFound
	}
	return role, err
}
