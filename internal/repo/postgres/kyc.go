package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/loanhub/internal/domain/kyc"
	"github.com/geocoder89/loanhub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const kycColumns = `id, user_id, nin, bvn, document_type, status, created_at, updated_at`

type KYCRepo struct {
	base
}

func NewKYCRepo(pool *pgxpool.Pool, prom *observability.Prom) *KYCRepo {
	return &KYCRepo{base{pool: pool, prom: prom}}
}

func scanProfile(row pgx.Row) (kyc.Profile, error) {
	var p kyc.Profile
	var status string

	err := row.Scan(&p.ID, &p.UserID, &p.NIN, &p.BVN, &p.DocumentType, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return kyc.Profile{}, kyc.ErrNotFound
		}
		return kyc.Profile{}, err
	}
	p.Status = kyc.Status(status)
	return p, nil
}

// Upsert creates the caller's profile or overwrites it, resetting status to PENDING.
func (r *KYCRepo) Upsert(ctx context.Context, userID string, req kyc.UpsertRequest) (p kyc.Profile, err error) {
	now := time.Now().UTC()

	err = r.observe("kyc.upsert", func() error {
		var e error
		p, e = scanProfile(r.pool.QueryRow(ctx, `
			INSERT INTO kyc_profiles (id, user_id, nin, bvn, document_type, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (user_id) DO UPDATE SET
				nin = EXCLUDED.nin,
				bvn = EXCLUDED.bvn,
				document_type = EXCLUDED.document_type,
				status = EXCLUDED.status,
				updated_at = EXCLUDED.updated_at
			RETURNING `+kycColumns,
			uuid.NewString(), userID, req.NIN, req.BVN, req.DocumentType, string(kyc.StatusPending), now,
		))
		return e
	})
	return p, err
}

func (r *KYCRepo) GetByUser(ctx context.Context, userID string) (p kyc.Profile, err error) {
	err = r.observe("kyc.get_by_user", func() error {
		var e error
		p, e = scanProfile(r.pool.QueryRow(ctx,
			`SELECT `+kycColumns+` FROM kyc_profiles WHERE user_id = $1`, userID))
		return e
	})
	return p, err
}

