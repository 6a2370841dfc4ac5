package models

import (
	"errors"
	"fmt"
	"time"
)

// Status classifies who (or what) triggered an alert.
type Status string

const (
	StatusFriendly   Status = "friendly"
	StatusUnknown    Status = "unknown"
	StatusSuspicious Status = "suspicious"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusFriendly, StatusUnknown, StatusSuspicious:
		return true
	}
	return false
}

// Box is a detection bounding box in source-frame pixel coordinates.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// FaceObservation is one detected face within a frame. The embedding is
// optional: producers that run a face encoder attach it so the classifier can
// match against the roster; detection-only producers send the box alone.
// IdentityGuess/Score carry an upstream match for producers that classify
// themselves.
type FaceObservation struct {
	Box           Box       `json:"box"`
	Embedding     []float32 `json:"embedding,omitempty"`
	IdentityGuess string    `json:"identity_guess,omitempty"`
	Score         *float64  `json:"score,omitempty"`
}

// DetectionFrame is one frame's worth of observations. It is ephemeral:
// consumed by the pipeline and the latest-frame cache, never persisted.
type DetectionFrame struct {
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	CapturedAt   time.Time         `json:"captured_at"`
	Observations []FaceObservation `json:"detections"`
}

// Alert is the persisted record of a detection event.
type Alert struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"timestamp"`
	Status       Status         `json:"status"`
	Identity     string         `json:"identity,omitempty"`
	Confidence   *float64       `json:"confidence,omitempty"`
	Distance     *float64       `json:"distance,omitempty"`
	Angle        *float64       `json:"angle,omitempty"`
	SnapshotPath string         `json:"snapshot_path,omitempty"`
	Acknowledged bool           `json:"acknowledged"`
	Meta         map[string]any `json:"meta,omitempty"`
}

// ListFilter narrows an alert listing. Nil fields are ignored; set fields
// AND-combine.
type ListFilter struct {
	Status       *Status
	Acknowledged *bool
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

// ErrNotFound is returned when an alert id does not exist.
var ErrNotFound = errors.New("alert not found")

// ValidationError rejects malformed ingestion input. The payload that caused
// it produced no side effects.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StoreWriteError wraps a persistence failure that survived retries.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }
