//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"github.com/himanishpuri/TapSense/pkg/tapsense"
)

// Upload limits for POST /api/detect
const (
	// DefaultMaxUploadMB applies when the config does not set one
	DefaultMaxUploadMB = 50

	// multipartMemory is how much of an upload is kept in memory before
	// spilling to disk
	multipartMemory = 8 << 20
)

// ConfigResponse is the response for GET /api/config
type ConfigResponse struct {
	Detector   tapsense.DetectorConfig `json:"detector"`
	SampleRate int                     `json:"sample_rate"`
	// Derived timings at SampleRate
	BlockMs    float64 `json:"block_ms"`
	CooldownMs float64 `json:"cooldown_ms"`
	WindowMs   float64 `json:"window_ms"`
}

func newConfigResponse(dc tapsense.DetectorConfig, sampleRate int) ConfigResponse {
	block := float64(tapsense.BlockDuration(sampleRate, dc.MaxFrameSize).Microseconds()) / 1000
	return ConfigResponse{
		Detector:   dc,
		SampleRate: sampleRate,
		BlockMs:    block,
		CooldownMs: block * float64(dc.CooldownBlocks),
		WindowMs:   block * float64(dc.DoubleTapWindow),
	}
}

// ListRunsResponse is the response for GET /api/runs
type ListRunsResponse struct {
	Runs  []tapsense.Run `json:"runs"`
	Count int            `json:"count"`
}

// DeleteRunResponse is the response for DELETE /api/runs/{id}
type DeleteRunResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// MetricsResponse provides server health and database metrics
type MetricsResponse struct {
	Status        string `json:"status"`
	DatabasePath  string `json:"database_path"`
	RunCount      int    `json:"run_count"`
	TapCount      int    `json:"tap_count"`
	SampleRate    int    `json:"sample_rate"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
