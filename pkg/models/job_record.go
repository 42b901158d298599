package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the explicit ledger state of a JobRecord.
type JobStatus string

const (
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobRecord is one entry of the request ledger: a submitted provider job
// and, once fetched, its result. Original request fields never change
// after creation.
type JobRecord struct {
	ID                uuid.UUID      `db:"id"                  json:"id"`
	UserID            string         `db:"user_id"             json:"userId"`
	Status            JobStatus      `db:"status"              json:"status"`
	ServiceURL        string         `db:"service_url"         json:"serviceUrl"`
	Prompt            string         `db:"prompt"              json:"prompt"`
	ImageURLs         []string       `db:"image_urls"          json:"imageUrls"`
	Extra             map[string]any `db:"extra"               json:"extra,omitempty"`
	UpstreamRequestID *string        `db:"upstream_request_id" json:"upstreamRequestId,omitempty"`
	Result            *JobResult     `db:"-"                   json:"result,omitempty"`
	ErrorMessage      *string        `db:"error_message"       json:"error,omitempty"`
	CreatedAt         time.Time      `db:"created_at"          json:"createdAt"`
	UpdatedAt         time.Time      `db:"updated_at"          json:"updatedAt"`
}

// JobResult is the provider payload attached by a result fetch.
type JobResult struct {
	Data        json.RawMessage `json:"data"`
	CompletedAt time.Time       `json:"completedAt"`
}
