// Package heartbeat provides an in-process implementation of the
// heartbeat scheduler port, driving periodic billing triggers with one
// ticker per session.
package heartbeat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/nibble/ports"
)

// Scheduler delivers ports.Notification heartbeats to a sink at a
// per-session interval. Enable on an already-scheduled session retunes
// its interval.
type Scheduler struct {
	notify func(ports.Notification)
	idGen  ports.IDGenerator
	logger zerolog.Logger

	mu      sync.Mutex
	cancels map[string]chan struct{}
}

// New creates a scheduler delivering notifications to notify. The sink
// is called from the ticker goroutine; it must be safe for concurrent
// use.
func New(notify func(ports.Notification), idGen ports.IDGenerator, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		notify:  notify,
		idGen:   idGen,
		logger:  logger,
		cancels: make(map[string]chan struct{}),
	}
}

// Enable starts (or retunes) the session's heartbeat.
func (s *Scheduler) Enable(sessionID string, interval time.Duration) {
	if interval <= 0 {
		return
	}

	s.mu.Lock()
	if stop, ok := s.cancels[sessionID]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	s.cancels[sessionID] = stop
	s.mu.Unlock()

	s.logger.Debug().
		Str("session", sessionID).
		Dur("interval", interval).
		Msg("heartbeat enabled")

	go s.run(sessionID, interval, stop)
}

// Disable stops the session's heartbeat. Safe to call for sessions
// that were never scheduled.
func (s *Scheduler) Disable(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.cancels[sessionID]; ok {
		close(stop)
		delete(s.cancels, sessionID)
	}
}

// Active returns how many sessions currently have a heartbeat.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancels)
}

// Stop cancels every heartbeat.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, stop := range s.cancels {
		close(stop)
		delete(s.cancels, id)
	}
}

func (s *Scheduler) run(sessionID string, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.notify(ports.Notification{
				ID:        s.idGen.New(),
				SessionID: sessionID,
				Kind:      ports.NotifyHeartbeat,
			})
		case <-stop:
			return
		}
	}
}

// Ensure interface compliance.
var _ ports.HeartbeatScheduler = (*Scheduler)(nil)
