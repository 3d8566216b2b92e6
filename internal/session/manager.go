package session

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"spotter/internal/metrics"
)

const (
	// Sessions idle past this are swept and their resources released.
	defaultSessionTTL  = 30 * time.Minute
	defaultSweepPeriod = 5 * time.Minute
	defaultMaxSessions = 32
)

// Manager owns the registry of running sessions. Entries expire on a TTL
// and eviction tears the session down, so abandoned sessions release
// their capture and tracker state without relying on callers to stop
// them.
type Manager struct {
	global *GlobalConfig

	det    Detector
	ledger Ledger
	source FrameSource
	pub    Publisher
	mets   *metrics.Metrics

	sessions    *gocache.Cache
	maxSessions int
}

// NewManager creates a session manager. Any of pub, mets may be nil.
func NewManager(global *GlobalConfig, det Detector, led Ledger, source FrameSource, pub Publisher, mets *metrics.Metrics) *Manager {
	if global == nil {
		global = DefaultGlobalConfig()
	}

	m := &Manager{
		global:      global,
		det:         det,
		ledger:      led,
		source:      source,
		pub:         pub,
		mets:        mets,
		sessions:    gocache.New(defaultSessionTTL, defaultSweepPeriod),
		maxSessions: defaultMaxSessions,
	}

	m.sessions.OnEvicted(func(id string, v interface{}) {
		s, ok := v.(*Session)
		if !ok {
			return
		}
		s.Stop()
		if m.mets != nil {
			m.mets.ActiveSessions.Dec()
			m.mets.ForgetSession(id)
		}
		log.Printf("[Manager] Session %s evicted", id)
	})

	return m
}

// StartSession creates and starts a detection session for a user.
func (m *Manager) StartSession(userID, label, device string, overrides *Overrides) (*Session, error) {
	if label == "" {
		return nil, fmt.Errorf("label is required")
	}
	if m.sessions.ItemCount() >= m.maxSessions {
		return nil, fmt.Errorf("session limit reached (%d)", m.maxSessions)
	}

	cfg := overrides.MergeWithGlobal(label, device, m.global)

	id := uuid.NewString()
	s := New(id, userID, cfg, m.det, m.ledger, m.source, m.pub, m.mets)
	if err := s.Start(); err != nil {
		return nil, err
	}

	m.sessions.Set(id, s, gocache.DefaultExpiration)
	if m.mets != nil {
		m.mets.ActiveSessions.Inc()
	}

	return s, nil
}

// Get returns a running session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	v, ok := m.sessions.Get(id)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Session)
	return s, ok
}

// Touch extends a session's TTL. Called on client activity so sessions
// with live subscribers are not swept.
func (m *Manager) Touch(id string) {
	if v, ok := m.sessions.Get(id); ok {
		m.sessions.Set(id, v, gocache.DefaultExpiration)
	}
}

// StopSession stops and removes a session. Removal triggers the eviction
// hook, which releases the session's resources.
func (m *Manager) StopSession(id string) error {
	if _, ok := m.sessions.Get(id); !ok {
		return fmt.Errorf("session %s not found", id)
	}
	m.sessions.Delete(id)
	return nil
}

// StopAll stops every running session. Used on shutdown.
func (m *Manager) StopAll() {
	for id := range m.sessions.Items() {
		m.sessions.Delete(id)
	}
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	return m.sessions.ItemCount()
}
