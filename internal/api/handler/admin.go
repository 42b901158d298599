package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studioai/studio-bff/internal/api/response"
	"github.com/studioai/studio-bff/internal/jobs"
	"github.com/studioai/studio-bff/pkg/models"
)

// AdminService defines the operator account operations.
type AdminService interface {
	Credit(ctx context.Context, userID string, amount float64) (*models.Account, error)
	Account(ctx context.Context, userID string) (*models.Account, error)
}

// NewCreditHandler returns an http.HandlerFunc for
// POST /api/v1/admin/accounts/{userID}/credits.
func NewCreditHandler(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "userID is required", nil)
			return
		}

		var req struct {
			Amount *float64 `json:"amount"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", MsgInvalidJSON, nil)
			return
		}
		if req.Amount == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "amount is required", nil)
			return
		}

		acct, err := svc.Credit(r.Context(), userID, *req.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, acct)
	}
}

// NewAdminAccountHandler returns an http.HandlerFunc for
// GET /api/v1/admin/accounts/{userID}.
func NewAdminAccountHandler(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, err := svc.Account(r.Context(), chi.URLParam(r, "userID"))
		if errors.Is(err, jobs.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Account not found", nil)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, acct)
	}
}
