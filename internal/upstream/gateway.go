// Package upstream performs outbound calls to the AI image provider.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/studioai/studio-bff/internal/allowlist"
	"github.com/studioai/studio-bff/internal/metrics"
	"github.com/studioai/studio-bff/internal/secrets"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultMaxBodyBytes = 10 << 20
	defaultSecretName   = "FAL_KEY"
	maxRedirects        = 10
)

// Client is the interface the orchestrators and relay handler depend on.
type Client interface {
	Send(ctx context.Context, req Request) (json.RawMessage, error)
}

// Request describes one outbound call.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    any
	UseAuth bool
}

// Options configures a Gateway.
type Options struct {
	Timeout        time.Duration
	MaxBodyBytes   int64
	RequestsPerSec float64
	SecretName     string
	HTTPClient     *http.Client
	Metrics        *metrics.Metrics
}

// Gateway implements Client over HTTP. Every call is checked against the
// allow-list before any network I/O.
type Gateway struct {
	guard      *allowlist.Guard
	secrets    secrets.Source
	secretName string
	client     *http.Client
	maxBody    int64
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
}

// NewGateway creates a Gateway.
func NewGateway(guard *allowlist.Guard, src secrets.Source, opts Options) *Gateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	secretName := opts.SecretName
	if secretName == "" {
		secretName = defaultSecretName
	}

	g := &Gateway{
		guard:      guard,
		secrets:    src,
		secretName: secretName,
		maxBody:    maxBody,
		metrics:    opts.Metrics,
	}

	// Copy so a caller's client keeps its own redirect policy.
	client := &http.Client{Timeout: timeout}
	if opts.HTTPClient != nil {
		c := *opts.HTTPClient
		client = &c
	}
	client.CheckRedirect = g.checkRedirect
	g.client = client

	if opts.RequestsPerSec > 0 {
		burst := int(opts.RequestsPerSec)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), burst)
	}
	return g
}

// checkRedirect applies the allow-list to every hop, so an allowed
// provider cannot bounce the request to an arbitrary host.
func (g *Gateway) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if _, err := g.guard.Check(req.URL.String()); err != nil {
		slog.Warn("upstream redirect rejected", "from", via[len(via)-1].URL.String(), "to", req.URL.String())
		return err
	}
	return nil
}

// Send performs the call and returns the provider's JSON payload.
func (g *Gateway) Send(ctx context.Context, req Request) (json.RawMessage, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		g.metrics.ObserveUpstream(method, metrics.OutcomeRejected, 0)
		return nil, fmt.Errorf("%w: %s", ErrInvalidMethod, method)
	}

	target, err := g.guard.Check(req.URL)
	if err != nil {
		g.metrics.ObserveUpstream(method, metrics.OutcomeRejected, 0)
		return nil, err
	}

	httpReq, err := g.buildRequest(ctx, method, target.String(), req)
	if err != nil {
		g.metrics.ObserveUpstream(method, metrics.OutcomeRejected, 0)
		return nil, err
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, classifyError(err)
		}
	}

	slog.Info("upstream request", "method", method, "url", target.String())
	start := time.Now()

	payload, err := g.do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		outcome := metrics.OutcomeNetwork
		attrs := []any{"method", method, "url", target.String(), "error", err.Error()}
		if errors.Is(err, allowlist.ErrForbiddenDomain) {
			outcome = metrics.OutcomeRejected
		}
		if ue, ok := AsError(err); ok {
			outcome = metrics.OutcomeUpstream
			attrs = append(attrs, "status", ue.StatusCode, "body", ue.Body)
		}
		g.metrics.ObserveUpstream(method, outcome, elapsed)
		slog.Error("upstream request failed", attrs...)
		return nil, err
	}

	g.metrics.ObserveUpstream(method, metrics.OutcomeSuccess, elapsed)
	slog.Info("upstream request succeeded",
		"method", method,
		"url", target.String(),
		"duration_ms", elapsed.Milliseconds(),
	)
	return payload, nil
}

func (g *Gateway) buildRequest(ctx context.Context, method, target string, req Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil && (method == http.MethodPost || method == http.MethodPut) {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if req.UseAuth {
		key, err := g.secrets.GetSecret(ctx, g.secretName)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is missing: %v", ErrConfiguration, g.secretName, err)
		}
		httpReq.Header.Set("Authorization", "Key "+key)
	}
	return httpReq, nil
}

func (g *Gateway) do(httpReq *http.Request) (json.RawMessage, error) {
	resp, err := g.client.Do(httpReq)
	if err != nil {
		var domainErr *allowlist.DomainError
		if errors.As(err, &domainErr) {
			return nil, domainErr
		}
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBody+1))
	if err != nil {
		return nil, classifyError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}

	if int64(len(raw)) > g.maxBody {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrInvalidPayload, g.maxBody)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: response is not JSON", ErrInvalidPayload)
	}
	return json.RawMessage(raw), nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// Compile-time check that Gateway implements Client.
var _ Client = (*Gateway)(nil)
