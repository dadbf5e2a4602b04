package types

import "time"

type StatusKind string

const (
	StatusSuccess StatusKind = "success"
	StatusError   StatusKind = "error"
	StatusInfo    StatusKind = "info"
)

// ScannerStatus is a point-in-time view of the capture loop.
type ScannerStatus struct {
	Running    bool       `json:"running"`
	SessionID  string     `json:"session_id,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	Recorded   int        `json:"recorded"`
	Duplicates int        `json:"duplicates"`
	Malformed  int        `json:"malformed"`
	Message    string     `json:"message,omitempty"`
	Kind       StatusKind `json:"kind,omitempty"`
}
