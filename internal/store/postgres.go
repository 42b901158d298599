package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/studioai/studio-bff/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Accounts ---

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	var a models.Account
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, current_token, created_at, updated_at FROM accounts WHERE user_id = $1`, userID,
	).Scan(&a.UserID, &a.CurrentToken, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// DebitAccount decrements server-side in a single guarded UPDATE, so
// concurrent debits for the same user cannot overdraw the balance.
func (s *PostgresStore) DebitAccount(ctx context.Context, userID string, amount float64) (float64, error) {
	var remaining float64
	err := s.pool.QueryRow(ctx,
		`UPDATE accounts SET current_token = current_token - $2, updated_at = NOW()
		 WHERE user_id = $1 AND current_token >= $2
		 RETURNING current_token`, userID, amount,
	).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("debit account: %w", err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`, userID,
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("debit account: %w", err)
	}
	if !exists {
		return 0, ErrNotFound
	}
	return 0, ErrInsufficientBalance
}

func (s *PostgresStore) CreditAccount(ctx context.Context, userID string, amount float64) (*models.Account, error) {
	var a models.Account
	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (user_id, current_token, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE
		 SET current_token = accounts.current_token + EXCLUDED.current_token, updated_at = NOW()
		 RETURNING user_id, current_token, created_at, updated_at`, userID, amount,
	).Scan(&a.UserID, &a.CurrentToken, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("credit account: %w", err)
	}
	return &a, nil
}

// --- Job records ---

const jobRecordColumns = `id, user_id, status, service_url, prompt, image_urls, extra,
	upstream_request_id, result_data, completed_at, error_message, created_at, updated_at`

// CreateJobRecord inserts rec, assigning an ID and timestamps when unset.
func (s *PostgresStore) CreateJobRecord(ctx context.Context, rec *models.JobRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = models.JobStatusSubmitted
	}
	imageURLs := rec.ImageURLs
	if imageURLs == nil {
		imageURLs = []string{}
	}

	var extra []byte
	if len(rec.Extra) > 0 {
		b, err := json.Marshal(rec.Extra)
		if err != nil {
			return fmt.Errorf("encode extra: %w", err)
		}
		extra = b
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ai_tool_requests
		 (id, user_id, status, service_url, prompt, image_urls, extra, upstream_request_id, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.UserID, string(rec.Status), rec.ServiceURL, rec.Prompt, imageURLs, extra,
		rec.UpstreamRequestID, rec.ErrorMessage, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJobRecord(ctx context.Context, id uuid.UUID) (*models.JobRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobRecordColumns+` FROM ai_tool_requests WHERE id = $1`, id)
	rec, err := scanJobRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) CompleteJobRecord(ctx context.Context, id uuid.UUID, userID string, data json.RawMessage, completedAt time.Time) error {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ai_tool_requests
		 SET result_data = $3, completed_at = $4, status = 'completed', updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`,
		id, userID, []byte(data), completedAt.UTC())
	if err != nil {
		return fmt.Errorf("complete job record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListJobRecords(ctx context.Context, userID string, limit int) ([]*models.JobRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobRecordColumns+` FROM ai_tool_requests
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list job records: %w", err)
	}
	defer rows.Close()

	records := []*models.JobRecord{}
	for rows.Next() {
		rec, err := scanJobRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanJobRecord(row pgx.Row) (*models.JobRecord, error) {
	var (
		rec         models.JobRecord
		status      string
		extra       []byte
		resultData  []byte
		completedAt *time.Time
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &status, &rec.ServiceURL, &rec.Prompt, &rec.ImageURLs, &extra,
		&rec.UpstreamRequestID, &resultData, &completedAt, &rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = models.JobStatus(status)

	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &rec.Extra); err != nil {
			return nil, fmt.Errorf("decode extra: %w", err)
		}
	}
	if completedAt != nil {
		rec.Result = &models.JobResult{
			Data:        json.RawMessage(resultData),
			CompletedAt: completedAt.UTC(),
		}
	}
	return &rec, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
