package api

import "github.com/colonyforge/hiveforge/pkg/lineage"

// CreatedResponse acknowledges entity creation.
type CreatedResponse struct {
	ID string `json:"id"`
}

// ColonyCreatedResponse acknowledges colony creation under a hive.
type ColonyCreatedResponse struct {
	ColonyID string `json:"colony_id"`
	HiveID   string `json:"hive_id"`
}

// StatusResponse acknowledges a lifecycle transition.
type StatusResponse struct {
	Status string `json:"status"`
}

// EmergencyStopResponse reports how many runs a stop affected.
type EmergencyStopResponse struct {
	Status       string `json:"status"`
	RunsAffected int    `json:"runs_affected"`
}

// VerifyResponse is the chain verification result for a stream.
// FirstFailureIndex is -1 when the chain verifies.
type VerifyResponse struct {
	OK                bool `json:"ok"`
	FirstFailureIndex int  `json:"first_failure_index"`
	Events            int  `json:"events"`
}

// LineageResponse wraps a lineage graph.
type LineageResponse struct {
	Graph *lineage.Graph `json:"graph"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	ActiveRuns int    `json:"active_runs"`
}
