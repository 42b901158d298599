// Package jobs orchestrates AI job submission, status polling and result
// retrieval against the provider, the balance store and the request ledger.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/studioai/studio-bff/internal/cache"
	"github.com/studioai/studio-bff/internal/metrics"
	"github.com/studioai/studio-bff/internal/store"
	"github.com/studioai/studio-bff/internal/upstream"
	"github.com/studioai/studio-bff/pkg/models"
)

const (
	statusCompleted     = "COMPLETED"
	defaultStatusTTL    = 5 * time.Minute
	bookkeepingTimeout  = 10 * time.Second
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// SubmitParams holds validated parameters for a job submission.
type SubmitParams struct {
	UserID     string
	ServiceURL string
	Prompt     string
	ImageURLs  []string
	Extra      map[string]any
	Token      float64
}

// SubmitResult is the outcome of a successful submission. DocumentID is
// nil when the ledger write failed.
type SubmitResult struct {
	Data       json.RawMessage
	DocumentID *string
}

// StatusParams identifies a provider job to poll.
type StatusParams struct {
	ServiceURL string
	RequestID  string
	Extra      map[string]any
}

// ResultParams identifies a provider job and the ledger entry it belongs to.
type ResultParams struct {
	UserID     string
	ServiceURL string
	RequestID  string
	DocumentID string
	Extra      map[string]any
}

// Options configures a Service.
type Options struct {
	Generation     upstream.GenerationParams
	StatusCacheTTL time.Duration
}

// Service implements the submission, status and result flows.
type Service struct {
	store     store.Store
	gateway   upstream.Client
	cache     cache.Cache
	metrics   *metrics.Metrics
	params    upstream.GenerationParams
	statusTTL time.Duration
	now       func() time.Time

	// tracks detached diagnostic writes
	wg sync.WaitGroup
}

// NewService creates a Service. A nil cache disables status caching.
func NewService(st store.Store, gw upstream.Client, c cache.Cache, m *metrics.Metrics, opts Options) *Service {
	ttl := opts.StatusCacheTTL
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &Service{
		store:     st,
		gateway:   gw,
		cache:     c,
		metrics:   m,
		params:    opts.Generation,
		statusTTL: ttl,
		now:       time.Now,
	}
}

// Wait blocks until every detached diagnostic write has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (p SubmitParams) validate() error {
	if math.IsNaN(p.Token) || math.IsInf(p.Token, 0) || p.Token <= 0 {
		return ErrInvalidCost
	}
	if strings.TrimSpace(p.Prompt) == "" || len(p.ImageURLs) == 0 {
		return ErrMissingInput
	}
	if strings.TrimSpace(p.ServiceURL) == "" {
		return ErrMissingServiceURL
	}
	return nil
}

// Submit checks the caller's balance, forwards the job to the provider and,
// once the provider accepted it, debits the balance and appends a ledger
// entry. Neither bookkeeping step can fail the call.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (*SubmitResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	acct, err := s.store.GetAccount(ctx, p.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInsufficientBalance
	}
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}
	if acct.CurrentToken < p.Token {
		return nil, ErrInsufficientBalance
	}

	body := upstream.BuildRequestBody(p.Prompt, p.ImageURLs, p.Extra, s.params)
	payload, err := s.gateway.Send(ctx, upstream.Request{
		URL:     p.ServiceURL,
		Method:  http.MethodPost,
		Body:    body,
		UseAuth: true,
	})
	if err != nil {
		s.recordFailure(p, err)
		return nil, err
	}

	docID := s.bookkeep(ctx, p, payload)
	return &SubmitResult{Data: payload, DocumentID: docID}, nil
}

// bookkeep runs the debit and the ledger append side by side. Each has its
// own error boundary; the result only carries the document id.
func (s *Service) bookkeep(ctx context.Context, p SubmitParams, payload json.RawMessage) *string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	var (
		wg    sync.WaitGroup
		docID *string
	)
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.guard("debit", p.UserID, func() error {
			remaining, err := s.store.DebitAccount(ctx, p.UserID, p.Token)
			if err != nil {
				return err
			}
			s.metrics.AddCreditsDebited(p.Token)
			slog.Info("balance debited", "user_id", p.UserID, "amount", p.Token, "remaining", remaining)
			return nil
		})
	}()

	go func() {
		defer wg.Done()
		s.guard("record", p.UserID, func() error {
			rec := &models.JobRecord{
				UserID:     p.UserID,
				Status:     models.JobStatusSubmitted,
				ServiceURL: p.ServiceURL,
				Prompt:     p.Prompt,
				ImageURLs:  p.ImageURLs,
				Extra:      p.Extra,
				CreatedAt:  s.now().UTC(),
			}
			if reqID := upstream.RequestID(payload); reqID != "" {
				rec.UpstreamRequestID = &reqID
			}
			if err := s.store.CreateJobRecord(ctx, rec); err != nil {
				return err
			}
			id := rec.ID.String()
			docID = &id
			slog.Info("job recorded", "user_id", p.UserID, "document_id", id)
			return nil
		})
	}()

	wg.Wait()
	return docID
}

// recordFailure writes a failed ledger entry in the background for
// diagnostics. It never affects the response.
func (s *Service) recordFailure(p SubmitParams, cause error) {
	msg := cause.Error()
	if ue, ok := upstream.AsError(cause); ok && ue.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, ue.Body)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
		defer cancel()

		s.guard("diagnostic_record", p.UserID, func() error {
			rec := &models.JobRecord{
				UserID:       p.UserID,
				Status:       models.JobStatusFailed,
				ServiceURL:   p.ServiceURL,
				Prompt:       p.Prompt,
				ImageURLs:    p.ImageURLs,
				Extra:        p.Extra,
				ErrorMessage: &msg,
				CreatedAt:    s.now().UTC(),
			}
			if err := s.store.CreateJobRecord(ctx, rec); err != nil {
				return err
			}
			slog.Info("failed job recorded", "user_id", p.UserID, "document_id", rec.ID, "error", msg)
			return nil
		})
	}()
}

// guard runs a best-effort bookkeeping step, logging and counting any
// error or panic instead of returning it.
func (s *Service) guard(operation, userID string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in bookkeeping", "operation", operation, "user_id", userID, "error", r)
			s.metrics.BookkeepingFailed(operation)
		}
	}()
	if err := fn(); err != nil {
		slog.Error("bookkeeping failed", "operation", operation, "user_id", userID, "error", err)
		s.metrics.BookkeepingFailed(operation)
	}
}

// Status polls the provider for a job's state. Completed payloads are
// cached so repeated polls after completion stay local. Polls carrying
// extra fields always go to the provider since the cache key ignores them.
func (s *Service) Status(ctx context.Context, p StatusParams) (json.RawMessage, error) {
	if p.RequestID == "" {
		return nil, ErrMissingRequestID
	}
	if strings.TrimSpace(p.ServiceURL) == "" {
		return nil, ErrMissingServiceURL
	}

	cacheable := s.cache != nil && len(p.Extra) == 0
	if cacheable {
		cached, found, err := s.cache.GetStatus(ctx, p.ServiceURL, p.RequestID)
		if err != nil {
			slog.Warn("status cache read failed", "request_id", p.RequestID, "error", err)
		} else if found {
			return cached, nil
		}
	}

	payload, err := s.gateway.Send(ctx, upstream.Request{
		URL:     p.ServiceURL,
		Method:  http.MethodGet,
		Body:    upstream.BuildStatusBody(p.RequestID, p.Extra),
		UseAuth: true,
	})
	if err != nil {
		return nil, err
	}

	if cacheable && upstream.Status(payload) == statusCompleted {
		if err := s.cache.SetStatus(ctx, p.ServiceURL, p.RequestID, payload, s.statusTTL); err != nil {
			slog.Warn("status cache write failed", "request_id", p.RequestID, "error", err)
		}
	}
	return payload, nil
}

// Result fetches a finished job's payload for the owner of the ledger
// entry and attaches it to that entry.
func (s *Service) Result(ctx context.Context, p ResultParams) (json.RawMessage, error) {
	if p.RequestID == "" {
		return nil, ErrMissingRequestID
	}
	if p.DocumentID == "" {
		return nil, ErrMissingDocumentID
	}

	id, err := uuid.Parse(p.DocumentID)
	if err != nil {
		return nil, ErrNotFound
	}
	rec, err := s.store.GetJobRecord(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("document not found", "document_id", p.DocumentID, "user_id", p.UserID)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job record: %w", err)
	}
	if rec.UserID != p.UserID {
		slog.Warn("document access denied", "document_id", p.DocumentID, "user_id", p.UserID)
		return nil, ErrForbidden
	}

	payload, err := s.gateway.Send(ctx, upstream.Request{
		URL:     p.ServiceURL,
		Method:  http.MethodGet,
		Body:    upstream.BuildStatusBody(p.RequestID, p.Extra),
		UseAuth: true,
	})
	if err != nil {
		return nil, err
	}

	attachCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	s.guard("attach_result", p.UserID, func() error {
		return s.store.CompleteJobRecord(attachCtx, id, p.UserID, payload, s.now())
	})

	// The ledger now holds the payload; drop the cached status.
	if s.cache != nil {
		if err := s.cache.Delete(attachCtx, cache.StatusKey(p.ServiceURL, p.RequestID)); err != nil {
			slog.Warn("status cache evict failed", "request_id", p.RequestID, "error", err)
		}
	}
	return payload, nil
}

// Balance returns the caller's account. A missing account reads as an
// empty balance.
func (s *Service) Balance(ctx context.Context, userID string) (*models.Account, error) {
	acct, err := s.store.GetAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &models.Account{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}
	return acct, nil
}

// History lists the caller's most recent ledger entries, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*models.JobRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	records, err := s.store.ListJobRecords(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing job records: %w", err)
	}
	return records, nil
}

// Credit tops up an account out of band, creating it when absent.
func (s *Service) Credit(ctx context.Context, userID string, amount float64) (*models.Account, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return nil, ErrInvalidCreditDelta
	}
	acct, err := s.store.CreditAccount(ctx, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("crediting account: %w", err)
	}
	slog.Info("account credited", "user_id", userID, "amount", amount, "balance", acct.CurrentToken)
	return acct, nil
}

// Account returns an account for operators; unlike Balance a missing
// account is reported.
func (s *Service) Account(ctx context.Context, userID string) (*models.Account, error) {
	acct, err := s.store.GetAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}
	return acct, nil
}
