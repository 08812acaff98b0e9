package user

import (
	"errors"
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

var (
	ErrNotFound         = errors.New("user not found")
	ErrAlreadyExists    = errors.New("email or phone already exists")
	ErrInvalidBirthDate = errors.New("dateOfBirth must be YYYY-MM-DD or RFC3339")
)

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // never expose hash in JSON
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	DateOfBirth  *time.Time `json:"dateOfBirth"`
	Phone        string     `json:"phone"`
	Address      string     `json:"address"`
	Role         Role       `json:"role"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email,max=254"`
	Password    string `json:"password" binding:"required,max=72"`
	FirstName   string `json:"firstName" binding:"omitempty,max=100"`
	LastName    string `json:"lastName" binding:"omitempty,max=100"`
	DateOfBirth string `json:"dateOfBirth" binding:"omitempty"`
	Phone       string `json:"phone" binding:"omitempty,max=32"`
	Address     string `json:"address" binding:"omitempty,max=255"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UpdateProfileRequest only carries the fields a user may change; nil means unchanged.
type UpdateProfileRequest struct {
	Phone   *string `json:"phone" binding:"omitempty,max=32"`
	Address *string `json:"address" binding:"omitempty,max=255"`
}

// NewUser is the validated input for UsersRepo.Create.
type NewUser struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	DateOfBirth  *time.Time
	Phone        string
	Address      string
	Role         Role
}

// ParseDateOfBirth accepts a calendar date or a full RFC3339 timestamp.
func ParseDateOfBirth(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, ErrInvalidBirthDate
	}

	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &day, nil
}

// NormalizeEmail lowercases and trims so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
