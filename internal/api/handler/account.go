package handler

import (
	"context"
	"net/http"
	"strconv"

	mw "github.com/studioai/studio-bff/internal/api/middleware"
	"github.com/studioai/studio-bff/internal/api/response"
	"github.com/studioai/studio-bff/pkg/models"
)

// AccountService defines the read-only account operations available to
// authenticated users.
type AccountService interface {
	Balance(ctx context.Context, userID string) (*models.Account, error)
	History(ctx context.Context, userID string, limit int) ([]*models.JobRecord, error)
}

// NewBalanceHandler returns an http.HandlerFunc for GET /api/v1/account.
func NewBalanceHandler(svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", mw.MsgAuthRequired, nil)
			return
		}

		acct, err := svc.Balance(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, acct)
	}
}

// NewHistoryHandler returns an http.HandlerFunc for GET /api/v1/ai-tool/history.
// The optional limit query parameter is clamped by the service.
func NewHistoryHandler(svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", mw.MsgAuthRequired, nil)
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			limit = n
		}

		records, err := svc.History(r.Context(), userID, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if records == nil {
			records = []*models.JobRecord{}
		}
		response.Collection(w, records, response.PaginationMeta{Limit: limit, Count: len(records)})
	}
}
