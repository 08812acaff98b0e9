// Package memory keeps the whole loan book in process. It mirrors the
// Postgres repos closely enough to stand in for them in router tests and
// local runs without a database.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/loanhub/internal/domain/kyc"
	"github.com/geocoder89/loanhub/internal/domain/loan"
	"github.com/geocoder89/loanhub/internal/domain/payment"
	"github.com/geocoder89/loanhub/internal/domain/user"
)

// Store is the shared state; one mutex stands in for row locks and
// transactions.
type Store struct {
	mu  sync.RWMutex
	seq int64

	users         map[string]user.User
	loans         map[string]loan.Loan
	loanSeq       map[string]int64
	repayments    []payment.Repayment
	disbursements []payment.Disbursement
	kyc           map[string]kyc.Profile
}

func NewStore() *Store {
	return &Store{
		users:   make(map[string]user.User),
		loans:   make(map[string]loan.Loan),
		loanSeq: make(map[string]int64),
		kyc:     make(map[string]kyc.Profile),
	}
}

func (s *Store) next() int64 {
	s.seq++
	return s.seq
}

func now() time.Time {
	return time.Now().UTC()
}

// newest first, like the ORDER BY created_at DESC in Postgres
func (s *Store) sortLoans(ls []loan.Loan) {
	sort.Slice(ls, func(i, j int) bool {
		return s.loanSeq[ls[i].ID] > s.loanSeq[ls[j].ID]
	})
}
