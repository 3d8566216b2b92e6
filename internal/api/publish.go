package api

import (
	"spotter/internal/session"
	"spotter/internal/vision"
	"spotter/internal/ws"
)

// HubPublisher bridges session result publishes onto the websocket hub.
type HubPublisher struct {
	hub *ws.DetectionHub
}

// NewHubPublisher creates a publisher backed by the given hub.
func NewHubPublisher(hub *ws.DetectionHub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) PublishDetections(sessionID string, objects []vision.DetectedObject, m vision.PerformanceMetrics) {
	p.hub.BroadcastDetections(ws.NewDetectionsMessage(sessionID, objects, m))
}

func (p *HubPublisher) PublishStatus(sessionID, state, reason string) {
	p.hub.BroadcastStatus(ws.NewStatusMessage(sessionID, state, reason))

	// A stopped session streams nothing further; cut its clients loose.
	if state == "stopped" {
		p.hub.DropSession(sessionID)
	}
}

var _ session.Publisher = (*HubPublisher)(nil)
