package memory

import (
	"context"
	"strings"

	"github.com/geocoder89/loanhub/internal/domain/user"
	"github.com/google/uuid"
)

type UsersRepo struct {
	s *Store
}

func NewUsersRepo(s *Store) *UsersRepo {
	return &UsersRepo{s: s}
}

// taken reports whether email or a non-empty phone belongs to someone other
// than exceptID.
func (r *UsersRepo) taken(email, phone, exceptID string) bool {
	for id, u := range r.s.users {
		if id == exceptID {
			continue
		}
		if email != "" && u.Email == email {
			return true
		}
		if phone != "" && u.Phone == phone {
			return true
		}
	}
	return false
}

func (r *UsersRepo) Create(ctx context.Context, in user.NewUser) (user.User, error) {
	email := user.NormalizeEmail(in.Email)
	phone := strings.TrimSpace(in.Phone)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.taken(email, phone, "") {
		return user.User{}, user.ErrAlreadyExists
	}

	role := in.Role
	if role == "" {
		role = user.RoleUser
	}

	t := now()
	u := user.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: in.PasswordHash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		DateOfBirth:  in.DateOfBirth,
		Phone:        phone,
		Address:      in.Address,
		Role:         role,
		CreatedAt:    t,
		UpdatedAt:    t,
	}
	r.s.users[u.ID] = u

	return u, nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	email = user.NormalizeEmail(email)

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

// UpdateContact follows the Postgres repo: nil leaves a field, "" clears it.
func (r *UsersRepo) UpdateContact(ctx context.Context, id string, phone, address *string) (user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	if phone != nil {
		p := strings.TrimSpace(*phone)
		if r.taken("", p, id) {
			return user.User{}, user.ErrAlreadyExists
		}
		u.Phone = p
	}
	if address != nil {
		u.Address = *address
	}
	u.UpdatedAt = now()

	r.s.users[id] = u
	return u, nil
}

func (r *UsersRepo) GetRole(ctx context.Context, id string) (user.Role, error) {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

// SetRole is the in-memory counterpart of the admin seed.
func (r *UsersRepo) SetRole(id string, role user.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return user.ErrNotFound
	}
	u.Role = role
	r.s.users[id] = u
	return nil
}
