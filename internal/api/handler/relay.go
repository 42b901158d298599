package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/studioai/studio-bff/internal/api/response"
	"github.com/studioai/studio-bff/internal/upstream"
)

type relayResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	URL       string          `json:"url"`
	Method    string          `json:"method"`
	Timestamp string          `json:"timestamp"`
}

// NewRelayHandler returns an http.HandlerFunc for POST /api/v1/bff. It
// forwards an arbitrary call to an allow-listed provider host.
func NewRelayHandler(gw upstream.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL     any               `json:"url"`
			Method  string            `json:"method"`
			Headers map[string]string `json:"headers"`
			Body    json.RawMessage   `json:"body"`
			UseAuth *bool             `json:"useAuth"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", MsgInvalidJSON, nil)
			return
		}

		target, ok := req.URL.(string)
		if !ok || target == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_URL", MsgInvalidURL, nil)
			return
		}

		method := strings.ToUpper(strings.TrimSpace(req.Method))
		if method == "" {
			method = http.MethodGet
		}
		useAuth := req.UseAuth == nil || *req.UseAuth

		call := upstream.Request{
			URL:     target,
			Method:  method,
			Headers: req.Headers,
			UseAuth: useAuth,
		}
		if len(req.Body) > 0 && string(req.Body) != "null" {
			call.Body = req.Body
		}

		payload, err := gw.Send(r.Context(), call)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.OK(w, relayResponse{
			Success:   true,
			Data:      payload,
			URL:       target,
			Method:    method,
			Timestamp: response.Timestamp(time.Now()),
		})
	}
}
