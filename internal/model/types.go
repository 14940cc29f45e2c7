package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	// Step names the plan step that failed, when the failure came from the sequencer.
	Step string `json:"step,omitempty"`
}

type EnvelopeMeta struct {
	RequestID  string    `json:"request_id"`
	Timestamp  time.Time `json:"timestamp"`
	Command    string    `json:"command"`
	SequenceID string    `json:"sequence_id,omitempty"`
	DryRun     bool      `json:"dry_run,omitempty"`
	Degraded   bool      `json:"degraded"`
	Cache      CacheInfo `json:"cache"`
}

type CacheInfo struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
}

func CacheBypass() CacheInfo {
	return CacheInfo{Status: "bypass"}
}
