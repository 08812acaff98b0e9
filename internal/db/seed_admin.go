package db

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/loanhub/internal/config"
	"github.com/geocoder89/loanhub/internal/domain/user"
	"github.com/geocoder89/loanhub/internal/security"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureAdminUser creates the configured admin account, or promotes it if the
// email already belongs to a regular user.
func EnsureAdminUser(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	email := user.NormalizeEmail(cfg.AdminEmail)

	var role string

	err := pool.QueryRow(ctx, `SELECT role FROM users WHERE email = $1`, email).Scan(&role)

	if err == nil {
		if user.Role(role) == user.RoleAdmin {
			return nil
		}
		_, err = pool.Exec(ctx, `UPDATE users SET role = $1, updated_at = now() WHERE email = $2`, user.RoleAdmin, email)
		return err
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := security.HashPassword(cfg.AdminPassword)

	if err != nil {
		return err
	}

	now := time.Now().UTC()

	_, err = pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, first_name, role, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT DO NOTHING`,
		uuid.NewString(), email, hash, cfg.AdminName, user.RoleAdmin, now, now,
	)

	return err
}
