package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/loanhub/internal/domain/kyc"
	"github.com/gin-gonic/gin"
)

type KYCStore interface {
	Upsert(ctx context.Context, userID string, req kyc.UpsertRequest) (kyc.Profile, error)
	GetByUser(ctx context.Context, userID string) (kyc.Profile, error)
}

type KYCHandler struct {
	profiles KYCStore
}

func NewKYCHandler(profiles KYCStore) *KYCHandler {
	return &KYCHandler{profiles: profiles}
}

func (h *KYCHandler) Upsert(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	var req kyc.UpsertRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	p, err := h.profiles.Upsert(cctx, userID, req)
	if err != nil {
		RespondInternal(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, p)
}

func (h *KYCHandler) Get(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	cctx, cancel := requestContext(ctx, 2*time.Second)
	defer cancel()

	p, err := h.profiles.GetByUser(cctx, userID)
	if err != nil {
		if errors.Is(err, kyc.ErrNotFound) {
			RespondNotFound(ctx, "No KYC profile found")
			return
		}
		RespondInternal(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, p)
}
