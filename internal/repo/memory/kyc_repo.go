package memory

import (
	"context"

	"github.com/geocoder89/loanhub/internal/domain/kyc"
	"github.com/google/uuid"
)

type KYCRepo struct {
	s *Store
}

func NewKYCRepo(s *Store) *KYCRepo {
	return &KYCRepo{s: s}
}

// Upsert keeps one profile per user; resubmitting resets it to PENDING.
func (r *KYCRepo) Upsert(ctx context.Context, userID string, req kyc.UpsertRequest) (kyc.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t := now()
	p, ok := r.s.kyc[userID]
	if !ok {
		p = kyc.Profile{ID: uuid.NewString(), UserID: userID, CreatedAt: t}
	}

	p.NIN = req.NIN
	p.BVN = req.BVN
	p.DocumentType = req.DocumentType
	p.Status = kyc.StatusPending
	p.UpdatedAt = t

	r.s.kyc[userID] = p
	return p, nil
}

func (r *KYCRepo) GetByUser(ctx context.Context, userID string) (kyc.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.kyc[userID]
	if !ok {
		return kyc.Profile{}, kyc.ErrNotFound
	}
	return p, nil
}
