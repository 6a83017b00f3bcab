package app

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"live-quiz-service/internal/domain"
)

// Monitor is the capability set of enabled integrity detectors. The signals
// themselves are cheap, unreliable client-side observations; the monitor's
// job is idempotent bookkeeping, not prevention.
type Monitor struct {
	enabled   bool
	detectors map[domain.CheatType]struct{}
}

// DefaultDetectors is the detector set used when a quiz enables anti-cheat
// without picking specific capabilities.
func DefaultDetectors() []domain.CheatType {
	return []domain.CheatType{
		domain.CheatTabSwitch,
		domain.CheatCopy,
		domain.CheatPaste,
		domain.CheatRightClick,
	}
}

// NewMonitor builds a monitor. A disabled monitor ignores every signal.
func NewMonitor(enabled bool, detectors ...domain.CheatType) *Monitor {
	if len(detectors) == 0 {
		detectors = DefaultDetectors()
	}
	m := &Monitor{enabled: enabled, detectors: make(map[domain.CheatType]struct{}, len(detectors))}
	for _, d := range detectors {
		m.detectors[d] = struct{}{}
	}
	return m
}

// Accepts reports whether the monitor is on and the detector is enabled.
func (m *Monitor) Accepts(t domain.CheatType) bool {
	if m == nil || !m.enabled {
		return false
	}
	_, ok := m.detectors[t]
	return ok
}

// ReportCheat is the single dispatcher for every detector signal. The shared
// guards live here, applied exactly once: disabled monitor, completed
// participant, or a question that already has an answer all make the signal
// a no-op (the last one keeps a single navigation event from counting as
// both an answer and a cheat).
//
// An accepted signal records a CheatEvent, bumps the counter, and forces the
// same advance used by timer expiry — without a scored Answer row; the
// proctor's progress formula counts cheat attempts as consumed questions
// instead.
func (e *Engine) ReportCheat(cheatType domain.CheatType, detail string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.monitor.Accepts(cheatType) {
		return false
	}
	if e.done || e.participant.Completed() {
		return false
	}
	if e.answered || e.unitExpired {
		return false
	}

	now := e.now()
	e.persistCheatEventLocked(domain.CheatEvent{
		ParticipantID: e.participant.ID,
		Type:          cheatType,
		Detail:        detail,
		CreatedAt:     now,
	})
	e.participant.CheatAttempts++
	e.participant.LastSeen = now
	e.persistParticipantLocked()

	e.log.Info("cheat detected",
		zap.String("participant", e.participant.ID),
		zap.String("type", string(cheatType)),
		zap.Int("attempts", e.participant.CheatAttempts))

	e.emit(Event{Type: EventCheatAck, CheatType: cheatType, CheatAttempts: e.participant.CheatAttempts})

	// Same transition as timer expiry, scheduled once: repeated signals on
	// the same question keep counting but cannot advance twice.
	if e.pendingAdvance.IsZero() {
		e.scheduleAdvanceLocked(now)
	}
	return true
}

// persistCheatEventLocked writes best-effort. The store rejects events for a
// participant whose completion already landed; that race is expected and
// short-circuited silently.
func (e *Engine) persistCheatEventLocked(event domain.CheatEvent) {
	e.async(func() {
		if err := e.store.CreateCheatEvent(context.Background(), &event); err != nil {
			if errors.Is(err, domain.ErrAlreadyCompleted) {
				e.log.Debug("cheat event after completion dropped",
					zap.String("participant", event.ParticipantID))
				return
			}
			e.log.Warn("cheat event write failed",
				zap.String("participant", event.ParticipantID),
				zap.Error(err))
		}
	})
}
