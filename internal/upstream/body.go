package upstream

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// GenerationParams are the fixed provider parameters sent with every job.
type GenerationParams struct {
	GuidanceScale   float64
	NumImages       int
	OutputFormat    string
	SafetyTolerance string
}

// BuildRequestBody assembles a job submission body. Keys in extra
// overwrite the fixed parameters, prompt and image_urls included.
func BuildRequestBody(prompt string, imageURLs []string, extra map[string]any, p GenerationParams) map[string]any {
	body := map[string]any{
		"prompt":           prompt,
		"image_urls":       imageURLs,
		"guidance_scale":   p.GuidanceScale,
		"num_images":       p.NumImages,
		"output_format":    p.OutputFormat,
		"safety_tolerance": p.SafetyTolerance,
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

// BuildStatusBody assembles a status or result lookup body.
func BuildStatusBody(requestID string, extra map[string]any) map[string]any {
	body := map[string]any{"request_id": requestID}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

// RequestID extracts the provider's request_id from a queue response.
func RequestID(payload json.RawMessage) string {
	return gjson.GetBytes(payload, "request_id").String()
}

// Status extracts the queue status (IN_QUEUE, IN_PROGRESS, COMPLETED).
func Status(payload json.RawMessage) string {
	return gjson.GetBytes(payload, "status").String()
}
