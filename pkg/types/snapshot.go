package types

import "time"

// ViewSnapshot is what a participant currently shows.
type ViewSnapshot struct {
	Phase        string          `json:"phase"` // "not_started" | "in_progress" | "completed"
	ActiveStage  int             `json:"active_stage"`
	SuccessCount int             `json:"success_count"`
	Stages       []StageSnapshot `json:"stages"`
	Banned       bool            `json:"banned"`
}

type StageSnapshot struct {
	Name    string `json:"name"`
	Active  bool   `json:"active"`
	Variant int    `json:"variant"` // -1 = normal configuration
	Markers []bool `json:"markers"`
	Cleared bool   `json:"cleared"`
}

// SessionInfo is returned by GET /sessions/{code}.
type SessionInfo struct {
	Code         string   `json:"code"`
	Version      int      `json:"version"`
	Owner        string   `json:"owner,omitempty"`
	Participants int      `json:"participants"`
	SuccessCount int      `json:"success_count"`
	StageIndex   int      `json:"stage_index"`
	VariantIndex int      `json:"variant_index"`
	Phase        string   `json:"phase"`
	Banned       []string `json:"banned"`
}

// CommitRecord is one entry of GET /sessions/{code}/history.
type CommitRecord struct {
	Version      int       `json:"version"`
	Owner        string    `json:"owner"`
	SuccessCount int       `json:"success_count"`
	StageIndex   int       `json:"stage_index"`
	VariantIndex int       `json:"variant_index"`
	Events       []string  `json:"events"`
	At           time.Time `json:"at"`
}
