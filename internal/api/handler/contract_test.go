package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/studioai/studio-bff/internal/allowlist"
	"github.com/studioai/studio-bff/internal/api"
	"github.com/studioai/studio-bff/internal/api/handler"
	mw "github.com/studioai/studio-bff/internal/api/middleware"
	"github.com/studioai/studio-bff/internal/cache"
	"github.com/studioai/studio-bff/internal/identity"
	"github.com/studioai/studio-bff/internal/jobs"
	"github.com/studioai/studio-bff/internal/metrics"
	"github.com/studioai/studio-bff/internal/secrets"
	"github.com/studioai/studio-bff/internal/store"
	"github.com/studioai/studio-bff/internal/upstream"
	"github.com/studioai/studio-bff/pkg/models"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

const (
	aliceToken = "token-alice"
	bobToken   = "token-bob"
	adminKey   = "sk_contract_test_key_1234567890"
)

// ─── in-memory store ─────────────────────────────────────────────────────────

type memStore struct {
	mu          sync.Mutex
	accounts    map[string]float64
	records     map[uuid.UUID]*models.JobRecord
	keys        []*models.APIKey
	accountHits int
}

func newMemStore(t *testing.T) *memStore {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)
	return &memStore{
		accounts: make(map[string]float64),
		records:  make(map[uuid.UUID]*models.JobRecord),
		keys: []*models.APIKey{{
			ID:        uuid.New(),
			Name:      "ops",
			KeyHash:   string(hash),
			KeyPrefix: adminKey[:8],
			Scopes:    []string{"admin"},
		}},
	}
}

func (s *memStore) Ping(_ context.Context) error { return nil }

func (s *memStore) GetAccount(_ context.Context, userID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountHits++
	bal, ok := s.accounts[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &models.Account{UserID: userID, CurrentToken: bal}, nil
}

func (s *memStore) DebitAccount(_ context.Context, userID string, amount float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.accounts[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if bal < amount {
		return bal, store.ErrInsufficientBalance
	}
	s.accounts[userID] = bal - amount
	return bal - amount, nil
}

func (s *memStore) CreditAccount(_ context.Context, userID string, amount float64) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[userID] += amount
	return &models.Account{UserID: userID, CurrentToken: s.accounts[userID]}, nil
}

func (s *memStore) CreateJobRecord(_ context.Context, rec *models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *memStore) GetJobRecord(_ context.Context, id uuid.UUID) (*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) CompleteJobRecord(_ context.Context, id uuid.UUID, userID string, data json.RawMessage, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.UserID != userID {
		return store.ErrNotFound
	}
	rec.Status = models.JobStatusCompleted
	rec.Result = &models.JobResult{Data: data, CompletedAt: at}
	return nil
}

func (s *memStore) ListJobRecords(_ context.Context, userID string, limit int) ([]*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.JobRecord
	for _, rec := range s.records {
		if rec.UserID == userID && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *memStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (s *memStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.keys = append(s.keys, key)
	return nil
}

func (s *memStore) balance(userID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[userID]
}

func (s *memStore) recordsFor(userID string) []*models.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.JobRecord
	for _, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}

var _ store.Store = (*memStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type memCache struct {
	mu       sync.Mutex
	statuses map[string]json.RawMessage
	counters map[string]int64
}

func newMemCache() *memCache {
	return &memCache{statuses: make(map[string]json.RawMessage), counters: make(map[string]int64)}
}

func (c *memCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *memCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *memCache) Delete(_ context.Context, _ string) error                          { return nil }
func (c *memCache) Ping(_ context.Context) error                                      { return nil }

func (c *memCache) SetStatus(_ context.Context, serviceURL, requestID string, payload json.RawMessage, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[cache.StatusKey(serviceURL, requestID)] = payload
	return nil
}

func (c *memCache) GetStatus(_ context.Context, serviceURL, requestID string) (json.RawMessage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.statuses[cache.StatusKey(serviceURL, requestID)]
	return p, ok, nil
}

func (c *memCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

var _ cache.Cache = (*memCache)(nil)

// ─── stub verifier ───────────────────────────────────────────────────────────

type tokenVerifier map[string]string

func (v tokenVerifier) Verify(_ context.Context, token string) (*identity.Identity, error) {
	uid, ok := v[token]
	if !ok {
		return nil, identity.ErrInvalidToken
	}
	return &identity.Identity{UID: uid}, nil
}

// ─── test harness ────────────────────────────────────────────────────────────

type testServer struct {
	server   *httptest.Server
	provider *httptest.Server
	store    *memStore
	calls    atomic.Int32
	svc      *jobs.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{store: newMemStore(t)}

	ts.provider = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		if r.Header.Get("Authorization") != "Key fal-test" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"no key"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/fal-ai/x":
			w.Write([]byte(`{"request_id":"req-1","status":"IN_QUEUE"}`))
		case r.URL.Path == "/fal-ai/x/requests/req-1/status":
			w.Write([]byte(`{"status":"COMPLETED"}`))
		case r.URL.Path == "/fal-ai/x/requests/req-1":
			w.Write([]byte(`{"images":[{"url":"https://cdn/out.png"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"unknown"}`))
		}
	}))
	t.Cleanup(ts.provider.Close)

	m := metrics.New()
	mc := newMemCache()
	gw := upstream.NewGateway(
		allowlist.New([]string{"127.0.0.1"}),
		secrets.Static{"FAL_KEY": "fal-test"},
		upstream.Options{Timeout: 5 * time.Second, Metrics: m},
	)
	ts.svc = jobs.NewService(ts.store, gw, mc, m, jobs.Options{})

	router := api.NewRouter(api.Dependencies{
		FirebaseAuth: mw.NewFirebaseAuth(tokenVerifier{aliceToken: "alice", bobToken: "bob"}),
		APIKeyAuth:   mw.NewAPIKeyAuth(ts.store),
		RateLimit:    mw.NewRateLimit(mc, 1000),
		Metrics:      m,

		RelayHandler:        handler.NewRelayHandler(gw),
		SubmitHandler:       handler.NewSubmitHandler(ts.svc),
		StatusHandler:       handler.NewStatusHandler(ts.svc),
		ResultHandler:       handler.NewResultHandler(ts.svc),
		BalanceHandler:      handler.NewBalanceHandler(ts.svc),
		HistoryHandler:      handler.NewHistoryHandler(ts.svc),
		CreditHandler:       handler.NewCreditHandler(ts.svc),
		AdminAccountHandler: handler.NewAdminAccountHandler(ts.svc),
	})
	ts.server = httptest.NewServer(router)
	t.Cleanup(ts.server.Close)
	t.Cleanup(ts.svc.Wait)

	return ts
}

func (ts *testServer) do(t *testing.T, method, path, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (ts *testServer) submitBody(cost float64) map[string]any {
	return map[string]any{
		"serviceUrl": ts.provider.URL + "/fal-ai/x",
		"prompt":     "a cat",
		"image_urls": []string{"https://img/in.png"},
		"token":      cost,
	}
}

// ─── contract tests ──────────────────────────────────────────────────────────

func TestContract_InsufficientBalanceLeavesStateUntouched(t *testing.T) {
	ts := newTestServer(t)
	ts.store.accounts["alice"] = 3

	resp, body := ts.do(t, http.MethodPost, "/api/v1/ai-tool/request", aliceToken, ts.submitBody(5))

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, handler.MsgInsufficient, body["error"])
	assert.Equal(t, 3.0, ts.store.balance("alice"))
	assert.Empty(t, ts.store.recordsFor("alice"))
	assert.Zero(t, ts.calls.Load())
}

func TestContract_SubmitStatusResultFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.store.accounts["alice"] = 10

	resp, body := ts.do(t, http.MethodPost, "/api/v1/ai-tool/request", aliceToken, ts.submitBody(2))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "POST", body["method"])
	assert.Equal(t, "req-1", body["data"].(map[string]any)["request_id"])
	docID, ok := body["documentId"].(string)
	require.True(t, ok, "documentId must be returned")

	assert.Equal(t, 8.0, ts.store.balance("alice"))
	recs := ts.store.recordsFor("alice")
	require.Len(t, recs, 1)
	assert.Equal(t, docID, recs[0].ID.String())
	assert.Equal(t, models.JobStatusSubmitted, recs[0].Status)
	assert.Equal(t, "a cat", recs[0].Prompt)

	statusURL := ts.provider.URL + "/fal-ai/x/requests/req-1/status"
	resp, body = ts.do(t, http.MethodPost, "/api/v1/ai-tool/status", "", map[string]any{
		"serviceUrl": statusURL,
		"requestId":  "req-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "GET", body["method"])
	assert.Equal(t, "COMPLETED", body["data"].(map[string]any)["status"])

	// completed status is served from the cache
	before := ts.calls.Load()
	resp, _ = ts.do(t, http.MethodPost, "/api/v1/ai-tool/status", "", map[string]any{
		"serviceUrl": statusURL,
		"requestId":  "req-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, before, ts.calls.Load())

	resp, body = ts.do(t, http.MethodPost, "/api/v1/ai-tool/result", aliceToken, map[string]any{
		"serviceUrl": ts.provider.URL + "/fal-ai/x/requests/req-1",
		"requestId":  "req-1",
		"documentId": docID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, docID, body["documentId"])

	recs = ts.store.recordsFor("alice")
	require.Len(t, recs, 1)
	assert.Equal(t, models.JobStatusCompleted, recs[0].Status)
	require.NotNil(t, recs[0].Result)
	assert.JSONEq(t, `{"images":[{"url":"https://cdn/out.png"}]}`, string(recs[0].Result.Data))
	assert.False(t, recs[0].Result.CompletedAt.IsZero())
	assert.Equal(t, "a cat", recs[0].Prompt)
	assert.Equal(t, []string{"https://img/in.png"}, recs[0].ImageURLs)
}

func TestContract_ResultForOtherUsersDocument(t *testing.T) {
	ts := newTestServer(t)
	rec := &models.JobRecord{UserID: "alice", Status: models.JobStatusSubmitted, ServiceURL: "x", Prompt: "p"}
	require.NoError(t, ts.store.CreateJobRecord(context.Background(), rec))

	resp, body := ts.do(t, http.MethodPost, "/api/v1/ai-tool/result", bobToken, map[string]any{
		"serviceUrl": ts.provider.URL + "/fal-ai/x/requests/req-1",
		"requestId":  "req-1",
		"documentId": rec.ID.String(),
	})

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, handler.MsgDocumentForbidden, body["error"])
	assert.Zero(t, ts.calls.Load())
	stored, err := ts.store.GetJobRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Result)
}

func TestContract_ResultForUnknownDocument(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/ai-tool/result", aliceToken, map[string]any{
		"serviceUrl": ts.provider.URL + "/fal-ai/x/requests/req-1",
		"requestId":  "req-1",
		"documentId": uuid.NewString(),
	})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, handler.MsgDocumentNotFound, body["error"])
	assert.Zero(t, ts.calls.Load())
}

func TestContract_MalformedImageURLsRejectedEarly(t *testing.T) {
	ts := newTestServer(t)
	ts.store.accounts["alice"] = 10

	resp, body := ts.do(t, http.MethodPost, "/api/v1/ai-tool/request", aliceToken,
		`{"serviceUrl":"`+ts.provider.URL+`/fal-ai/x","prompt":"p","image_urls":["ok",{"bad":1}],"token":1}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, handler.MsgInvalidImageURLs, body["error"])
	assert.Zero(t, ts.store.accountHits)
	assert.Zero(t, ts.calls.Load())
	assert.Equal(t, 10.0, ts.store.balance("alice"))
}

func TestContract_Auth(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/ai-tool/request", "", ts.submitBody(1))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, mw.MsgAuthRequired, body["error"])

	resp, body = ts.do(t, http.MethodPost, "/api/v1/ai-tool/request", "forged", ts.submitBody(1))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, mw.MsgInvalidToken, body["error"])
	assert.Zero(t, ts.calls.Load())
}

func TestContract_UpstreamFailureKeepsBalance(t *testing.T) {
	ts := newTestServer(t)
	ts.store.accounts["alice"] = 10

	body := ts.submitBody(2)
	body["serviceUrl"] = ts.provider.URL + "/unknown"
	resp, out := ts.do(t, http.MethodPost, "/api/v1/ai-tool/request", aliceToken, body)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	details := out["details"].(map[string]any)
	assert.Equal(t, float64(404), details["upstreamStatus"])
	assert.Equal(t, 10.0, ts.store.balance("alice"))

	ts.svc.Wait()
	recs := ts.store.recordsFor("alice")
	require.Len(t, recs, 1)
	assert.Equal(t, models.JobStatusFailed, recs[0].Status)
}

func TestContract_RelayForbiddenDomain(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/bff", "", map[string]any{
		"url":    "https://evil.example.com/steal",
		"method": "POST",
	})

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Bu domain'e istek yapılamaz: evil.example.com", body["error"])
	assert.Zero(t, ts.calls.Load())
}

func TestContract_RelayInjectsCredential(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/bff", "", map[string]any{
		"url":    ts.provider.URL + "/fal-ai/x",
		"method": "POST",
		"body":   map[string]any{"prompt": "x"},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "POST", body["method"])
	assert.Equal(t, int32(1), ts.calls.Load())
}

func TestContract_AdminCreditThenBalance(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/admin/accounts/alice/credits", adminKey, map[string]any{"amount": 25})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, 25.0, body["data"].(map[string]any)["currentToken"])

	resp, body = ts.do(t, http.MethodGet, "/api/v1/account", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, 25.0, body["data"].(map[string]any)["currentToken"])

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/admin/accounts/alice/credits", aliceToken, map[string]any{"amount": 25})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestContract_HistoryIsScopedToCaller(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.store.CreateJobRecord(ctx, &models.JobRecord{UserID: "alice", Prompt: "a"}))
	require.NoError(t, ts.store.CreateJobRecord(ctx, &models.JobRecord{UserID: "bob", Prompt: "b"}))

	resp, body := ts.do(t, http.MethodGet, "/api/v1/ai-tool/history", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "alice", data[0].(map[string]any)["userId"])
}

func TestContract_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/api/v1/ai-tool/request", aliceToken, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "Method not allowed", body["error"])
}
