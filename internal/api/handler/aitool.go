package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	mw "github.com/studioai/studio-bff/internal/api/middleware"
	"github.com/studioai/studio-bff/internal/api/response"
	"github.com/studioai/studio-bff/internal/jobs"
)

// JobService defines the orchestrator interface the ai-tool handlers
// depend on.
type JobService interface {
	Submit(ctx context.Context, p jobs.SubmitParams) (*jobs.SubmitResult, error)
	Status(ctx context.Context, p jobs.StatusParams) (json.RawMessage, error)
	Result(ctx context.Context, p jobs.ResultParams) (json.RawMessage, error)
}

type submitResponse struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	URL        string          `json:"url"`
	Method     string          `json:"method"`
	Timestamp  string          `json:"timestamp"`
	DocumentID *string         `json:"documentId"`
}

type statusResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Method    string          `json:"method"`
	Timestamp string          `json:"timestamp"`
}

type resultResponse struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Method     string          `json:"method"`
	Timestamp  string          `json:"timestamp"`
	DocumentID string          `json:"documentId"`
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/ai-tool/request.
func NewSubmitHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", mw.MsgAuthRequired, nil)
			return
		}

		var req struct {
			ServiceURL string          `json:"serviceUrl"`
			Prompt     any             `json:"prompt"`
			ImageURLs  json.RawMessage `json:"image_urls"`
			Extra      map[string]any  `json:"extra"`
			Token      json.RawMessage `json:"token"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", MsgInvalidJSON, nil)
			return
		}

		cost, err := parseCost(req.Token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		prompt, _ := req.Prompt.(string)
		if prompt == "" {
			writeError(w, r, jobs.ErrMissingInput)
			return
		}
		imageURLs, err := parseImageURLs(req.ImageURLs)
		if err != nil {
			writeError(w, r, err)
			return
		}

		result, err := svc.Submit(r.Context(), jobs.SubmitParams{
			UserID:     userID,
			ServiceURL: req.ServiceURL,
			Prompt:     prompt,
			ImageURLs:  imageURLs,
			Extra:      req.Extra,
			Token:      cost,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.OK(w, submitResponse{
			Success:    true,
			Data:       result.Data,
			URL:        req.ServiceURL,
			Method:     http.MethodPost,
			Timestamp:  response.Timestamp(time.Now()),
			DocumentID: result.DocumentID,
		})
	}
}

// NewStatusHandler returns an http.HandlerFunc for POST /api/v1/ai-tool/status.
func NewStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ServiceURL string         `json:"serviceUrl"`
			RequestID  string         `json:"requestId"`
			Extra      map[string]any `json:"extra"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", MsgInvalidJSON, nil)
			return
		}

		payload, err := svc.Status(r.Context(), jobs.StatusParams{
			ServiceURL: req.ServiceURL,
			RequestID:  req.RequestID,
			Extra:      req.Extra,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.OK(w, statusResponse{
			Success:   true,
			Data:      payload,
			Method:    http.MethodGet,
			Timestamp: response.Timestamp(time.Now()),
		})
	}
}

// NewResultHandler returns an http.HandlerFunc for POST /api/v1/ai-tool/result.
func NewResultHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", mw.MsgAuthRequired, nil)
			return
		}

		var req struct {
			ServiceURL string         `json:"serviceUrl"`
			RequestID  string         `json:"requestId"`
			DocumentID string         `json:"documentId"`
			Extra      map[string]any `json:"extra"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", MsgInvalidJSON, nil)
			return
		}

		payload, err := svc.Result(r.Context(), jobs.ResultParams{
			UserID:     userID,
			ServiceURL: req.ServiceURL,
			RequestID:  req.RequestID,
			DocumentID: req.DocumentID,
			Extra:      req.Extra,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.OK(w, resultResponse{
			Success:    true,
			Data:       payload,
			Method:     http.MethodGet,
			Timestamp:  response.Timestamp(time.Now()),
			DocumentID: req.DocumentID,
		})
	}
}

// parseCost accepts only a JSON number greater than zero.
func parseCost(raw json.RawMessage) (float64, error) {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return 0, jobs.ErrInvalidCost
	}
	cost, ok := v.(float64)
	if !ok || cost <= 0 {
		return 0, jobs.ErrInvalidCost
	}
	return cost, nil
}

// parseImageURLs requires a non-empty JSON array whose elements are all
// strings.
func parseImageURLs(raw json.RawMessage) ([]string, error) {
	var items []any
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil || len(items) == 0 {
		return nil, jobs.ErrMissingInput
	}
	urls := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, jobs.ErrInvalidImageURLs
		}
		urls = append(urls, s)
	}
	return urls, nil
}
