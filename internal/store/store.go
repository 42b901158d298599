package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/studioai/studio-bff/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInsufficientBalance is returned by DebitAccount when the balance is
// lower than the amount at the moment of the update.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAccount(ctx context.Context, userID string) (*models.Account, error)
	// DebitAccount atomically subtracts amount and returns the new balance.
	// The balance never goes below zero.
	DebitAccount(ctx context.Context, userID string, amount float64) (float64, error)
	// CreditAccount adds amount, creating the account when absent.
	CreditAccount(ctx context.Context, userID string, amount float64) (*models.Account, error)

	CreateJobRecord(ctx context.Context, rec *models.JobRecord) error
	GetJobRecord(ctx context.Context, id uuid.UUID) (*models.JobRecord, error)
	// CompleteJobRecord attaches a result to a record owned by userID.
	// Original request fields are left untouched.
	CompleteJobRecord(ctx context.Context, id uuid.UUID, userID string, data json.RawMessage, completedAt time.Time) error
	ListJobRecords(ctx context.Context, userID string, limit int) ([]*models.JobRecord, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}
