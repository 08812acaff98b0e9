package kyc

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusVerified Status = "VERIFIED"
	StatusRejected Status = "REJECTED"
)

var ErrNotFound = errors.New("kyc profile not found")

type Profile struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	NIN          string    `json:"nin"`
	BVN          string    `json:"bvn"`
	DocumentType string    `json:"documentType"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type UpsertRequest struct {
	NIN          string `json:"nin" binding:"required,max=32"`
	BVN          string `json:"bvn" binding:"required,max=32"`
	DocumentType string `json:"documentType" binding:"required,max=64"`
}
