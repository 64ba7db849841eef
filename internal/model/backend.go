package model

import "time"

// BackendState is the liveness of the supervised backend process.
type BackendState string

const (
	BackendStarting BackendState = "starting"
	BackendRunning  BackendState = "running"
	BackendExited   BackendState = "exited"
)

// BackendHandle describes the current backend process. Only the supervisor
// mutates it; everyone else receives a copy.
type BackendHandle struct {
	PID       int          `json:"pid,omitempty"`
	Port      int          `json:"port"`
	Variant   string       `json:"variant"`
	State     BackendState `json:"state"`
	ExitCode  *int         `json:"exit_code,omitempty"` // set only when State is BackendExited
	StartedAt time.Time    `json:"started_at,omitzero"`
	Restarts  int          `json:"restarts"`
}
