package ws

import (
	"time"

	"spotter/internal/vision"
)

// DetectionsMessage carries the merged detection set for one session,
// fresh and tracked objects together, plus the current performance
// snapshot.
type DetectionsMessage struct {
	Type      string                    `json:"type"` // "detections"
	SessionID string                    `json:"session_id"`
	Timestamp time.Time                 `json:"timestamp"`
	Objects   []vision.DetectedObject   `json:"objects"`
	Metrics   vision.PerformanceMetrics `json:"metrics"`
}

// NewDetectionsMessage creates a detections message for a session.
func NewDetectionsMessage(sessionID string, objects []vision.DetectedObject, metrics vision.PerformanceMetrics) *DetectionsMessage {
	if objects == nil {
		objects = make([]vision.DetectedObject, 0)
	}
	return &DetectionsMessage{
		Type:      "detections",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Objects:   objects,
		Metrics:   metrics,
	}
}

// StatusMessage reports session lifecycle and error conditions to
// subscribed clients.
type StatusMessage struct {
	Type      string    `json:"type"` // "status"
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state"` // "running", "stopped", "degraded"
	Reason    string    `json:"reason,omitempty"`
}

// NewStatusMessage creates a status message for a session.
func NewStatusMessage(sessionID, state, reason string) *StatusMessage {
	return &StatusMessage{
		Type:      "status",
		SessionID: sessionID,
		Timestamp: time.Now(),
		State:     state,
		Reason:    reason,
	}
}
