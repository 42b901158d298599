package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/studioai/studio-bff/internal/allowlist"
	mw "github.com/studioai/studio-bff/internal/api/middleware"
	"github.com/studioai/studio-bff/internal/api/response"
	"github.com/studioai/studio-bff/internal/jobs"
	"github.com/studioai/studio-bff/internal/upstream"
)

// User-facing messages shown by the mobile app.
const (
	MsgInvalidCost        = "token sayısal ve 0'dan büyük olmalıdır"
	MsgMissingInput       = "prompt ve image_urls (dizi) gereklidir"
	MsgInvalidImageURLs   = "image_urls dizisindeki tüm elemanlar string olmalıdır"
	MsgInsufficient       = "Yetersiz token"
	MsgMissingRequestID   = "requestId gereklidir"
	MsgMissingDocumentID  = "documentId gereklidir"
	MsgMissingServiceURL  = "serviceUrl gereklidir"
	MsgDocumentNotFound   = "Belirtilen doküman bulunamadı"
	MsgDocumentForbidden  = "Bu dokümana erişim yetkiniz yok"
	MsgInvalidURL         = "URL gereklidir ve string olmalıdır"
	MsgForbiddenDomainFmt = "Bu domain'e istek yapılamaz: %s"
	MsgMethodNotAllowed   = "Method not allowed"
	MsgInvalidJSON        = "Invalid JSON body"
)

// maxRequestBytes caps inbound JSON bodies.
const maxRequestBytes = 1 << 20

// writeError maps orchestrator, guard and gateway errors to a status code
// and a failure envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *allowlist.DomainError
	var upstreamErr *upstream.Error

	switch {
	case errors.Is(err, jobs.ErrInvalidCost):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", MsgInvalidCost, nil)
	case errors.Is(err, jobs.ErrMissingInput):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", MsgMissingInput, nil)
	case errors.Is(err, jobs.ErrInvalidImageURLs):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", MsgInvalidImageURLs, nil)
	case errors.Is(err, jobs.ErrMissingRequestID):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", MsgMissingRequestID, nil)
	case errors.Is(err, jobs.ErrMissingDocumentID):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", MsgMissingDocumentID, nil)
	case errors.Is(err, jobs.ErrMissingServiceURL):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", MsgMissingServiceURL, nil)
	case errors.Is(err, jobs.ErrBadRequest), errors.Is(err, upstream.ErrInvalidMethod):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, allowlist.ErrInvalidURL):
		response.Error(w, http.StatusBadRequest, "INVALID_URL", MsgInvalidURL, nil)
	case errors.As(err, &domainErr):
		response.Error(w, http.StatusForbidden, "FORBIDDEN_DOMAIN",
			fmt.Sprintf(MsgForbiddenDomainFmt, domainErr.Host), nil)
	case errors.Is(err, jobs.ErrInsufficientBalance):
		response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_BALANCE", MsgInsufficient, nil)
	case errors.Is(err, jobs.ErrNotFound):
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", MsgDocumentNotFound, nil)
	case errors.Is(err, jobs.ErrForbidden):
		response.Error(w, http.StatusForbidden, "FORBIDDEN", MsgDocumentForbidden, nil)
	case errors.As(err, &upstreamErr):
		slog.Error("upstream error", "path", r.URL.Path, "status", upstreamErr.StatusCode, "error", err)
		response.Error(w, http.StatusInternalServerError, "UPSTREAM_ERROR", upstreamErr.Error(), map[string]any{
			"upstreamStatus": upstreamErr.StatusCode,
			"upstreamBody":   upstreamErr.Body,
		})
	case errors.Is(err, upstream.ErrNetwork):
		slog.Error("upstream network error", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "NETWORK_ERROR", err.Error(), nil)
	case errors.Is(err, upstream.ErrConfiguration), errors.Is(err, upstream.ErrInvalidPayload):
		slog.Error("upstream call failed", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", mw.MsgInternal, nil)
	}
}

// MethodNotAllowed answers routes that exist under another method.
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	response.Error(w, http.StatusMethodNotAllowed, "", MsgMethodNotAllowed, nil)
}

// NotFound answers unknown routes.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	response.Error(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
