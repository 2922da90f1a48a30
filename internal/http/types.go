package http

import "github.com/fyrsmithlabs/logsieve/internal/pipeline"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Dispatcher    string `json:"dispatcher"`
	ConfigVersion uint64 `json:"config_version"`
}

// IngestResponse is the response body for POST /api/v1/records.
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

// CompleteResponse is the response body for POST /api/v1/traces/:id/complete.
type CompleteResponse struct {
	TraceID string `json:"trace_id"`
}

// StatsResponse is the response body for GET /api/v1/stats.
type StatsResponse struct {
	Version string         `json:"version,omitempty"`
	Stats   pipeline.Stats `json:"stats"`
}
