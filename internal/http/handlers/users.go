package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/geocoder89/loanhub/internal/domain/user"
	"github.com/geocoder89/loanhub/internal/security"
	"github.com/gin-gonic/gin"
)

type UserStore interface {
	Create(ctx context.Context, in user.NewUser) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	UpdateContact(ctx context.Context, id string, phone, address *string) (user.User, error)
}

type TokenIssuer interface {
	IssueToken(userID, email string) (string, error)
}

type UserHandler struct {
	users UserStore
	jwt   TokenIssuer
}

func NewUserHandler(users UserStore, jwt TokenIssuer) *UserHandler {
	return &UserHandler{users: users, jwt: jwt}
}

const (
	msgInvalidCredentials = "Invalid credentials"
	msgDuplicateUser      = "Email or phone already exists"
)

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnPasswordCheck spends a bcrypt comparison so unknown emails take as long
// as wrong passwords.
func burnPasswordCheck(plain string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = security.HashPassword("loanhub-timing-equalizer")
	})
	_ = security.CheckPassword(dummyHash, plain)
}

func (h *UserHandler) Register(ctx *gin.Context) {
	var req user.RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	dob, err := user.ParseDateOfBirth(req.DateOfBirth)
	if err != nil {
		RespondBadRequest(ctx, "Invalid request body", gin.H{
			"fields": []FieldError{{Field: "dateOfBirth", Rule: "date", Message: err.Error()}},
		})
		return
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) {
			RespondBadRequest(ctx, "Invalid request body", gin.H{
				"fields": []FieldError{{Field: "password", Rule: "max_bytes", Message: err.Error()}},
			})
			return
		}
		RespondInternal(ctx, err)
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	u, err := h.users.Create(cctx, user.NewUser{
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		DateOfBirth:  dob,
		Phone:        req.Phone,
		Address:      req.Address,
		Role:         user.RoleUser,
	})
	if err != nil {
		if errors.Is(err, user.ErrAlreadyExists) {
			RespondBadRequest(ctx, msgDuplicateUser, nil)
			return
		}
		RespondInternal(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user":    u,
	})
}

func (h *UserHandler) Login(ctx *gin.Context) {
	var req user.LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// short timeout for DB lookup
	cctx, cancel := requestContext(ctx, 2*time.Second)
	defer cancel()

	found, err := h.users.GetByEmail(cctx, req.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			burnPasswordCheck(req.Password)
			RespondUnAuthorized(ctx, "invalid_credentials", msgInvalidCredentials)
			return
		}
		RespondInternal(ctx, err)
		return
	}

	if err := security.CheckPassword(found.PasswordHash, req.Password); err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", msgInvalidCredentials)
		return
	}

	token, err := h.jwt.IssueToken(found.ID, found.Email)
	if err != nil {
		RespondInternal(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"token":   token,
	})
}

func (h *UserHandler) Me(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	cctx, cancel := requestContext(ctx, 2*time.Second)
	defer cancel()

	u, err := h.users.GetByID(cctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}
		RespondInternal(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, u)
}

func (h *UserHandler) UpdateMe(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	var req user.UpdateProfileRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	u, err := h.users.UpdateContact(cctx, userID, req.Phone, req.Address)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrNotFound):
			RespondNotFound(ctx, "User not found")
		case errors.Is(err, user.ErrAlreadyExists):
			RespondBadRequest(ctx, msgDuplicateUser, nil)
		default:
			RespondInternal(ctx, err)
		}
		return
	}

	ctx.JSON(http.StatusOK, u)
}
