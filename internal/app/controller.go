package app

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"live-quiz-service/internal/domain"
)

// codeAlphabet avoids 0/O and 1/I so codes survive being read aloud.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const codeLength = 6

// Controller owns the proctor-side session lifecycle: start, advance, stop.
// It is the single writer of a session's current-question index; learners
// read it with poll-granularity staleness.
type Controller struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
	rnd   *rand.Rand
}

func NewController(store Store, log *zap.Logger) *Controller {
	return NewControllerWithClock(store, log, time.Now)
}

// NewControllerWithClock is for deterministic timestamps in tests.
func NewControllerWithClock(store Store, log *zap.Logger, now func() time.Time) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		store: store,
		log:   log,
		now:   now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start opens a session for (host, quiz). When the host already has an active
// session for the same quiz it is returned as-is, so a page reload never
// spawns a duplicate.
func (c *Controller) Start(ctx context.Context, quizID, hostID string) (domain.Session, error) {
	quiz, err := c.store.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Session{}, err
	}

	active, err := c.store.ListActiveSessionsByHost(ctx, hostID)
	if err != nil {
		return domain.Session{}, err
	}
	for _, session := range active {
		if session.QuizID == quiz.ID {
			return session, nil
		}
	}

	session := domain.Session{
		ID:              uuid.NewString(),
		QuizID:          quiz.ID,
		HostID:          hostID,
		Code:            c.generateCode(),
		IsActive:        true,
		CurrentQuestion: 0,
		StartedAt:       c.now(),
	}
	if err := c.store.CreateSession(ctx, &session); err != nil {
		return domain.Session{}, err
	}
	c.log.Info("session started",
		zap.String("session", session.ID),
		zap.String("quiz", quiz.ID),
		zap.String("code", session.Code))
	return session, nil
}

// Advance moves the session's question index by delta (±1), clamped at zero.
// Forward movement past the last question stops the session. A failed
// persistence write is surfaced but the returned session keeps the new index;
// the live view stays usable over strict consistency.
func (c *Controller) Advance(ctx context.Context, sessionID string, delta int) (domain.Session, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if !session.IsActive {
		return session, domain.ErrSessionEnded
	}
	questions, err := c.store.GetQuizQuestions(ctx, session.QuizID)
	if err != nil {
		return session, err
	}

	next := session.CurrentQuestion + delta
	if next < 0 {
		next = 0
	}
	if next >= len(questions) {
		return c.Stop(ctx, sessionID)
	}

	session.CurrentQuestion = next
	if err := c.store.UpdateSession(ctx, &session); err != nil {
		c.log.Warn("session advance write failed",
			zap.String("session", session.ID),
			zap.Error(err))
		return session, err
	}
	return session, nil
}

// Stop ends the session and force-completes every participant who was still
// connected and incomplete, so nobody is left "in progress" against a session
// that no longer exists.
func (c *Controller) Stop(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if !session.IsActive {
		return session, nil
	}

	now := c.now()
	session.IsActive = false
	session.EndedAt = &now
	if err := c.store.UpdateSession(ctx, &session); err != nil {
		c.log.Warn("session stop write failed",
			zap.String("session", session.ID),
			zap.Error(err))
		return session, err
	}

	participants, err := c.store.ListParticipantsBySession(ctx, session.ID)
	if err != nil {
		c.log.Warn("list participants failed during stop",
			zap.String("session", session.ID),
			zap.Error(err))
		return session, nil
	}
	for i := range participants {
		p := participants[i]
		if p.Completed() && !p.Connected {
			continue
		}
		if !p.Completed() {
			completed := now
			p.CompletedAt = &completed
		}
		p.Connected = false
		if err := c.store.UpdateParticipant(ctx, &p); err != nil {
			c.log.Warn("participant force-complete failed",
				zap.String("participant", p.ID),
				zap.Error(err))
		}
	}

	c.log.Info("session stopped",
		zap.String("session", session.ID),
		zap.Int("participants", len(participants)))
	return session, nil
}

// Elapsed formats the session's wall-clock age as mm:ss for the proctor view.
func (c *Controller) Elapsed(session domain.Session) string {
	end := c.now()
	if session.EndedAt != nil {
		end = *session.EndedAt
	}
	elapsed := end.Sub(session.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	total := int(elapsed / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// generateCode draws a short join code. Collisions are not handled: the code
// space against the number of simultaneously active sessions makes them a
// non-concern for this deployment size.
func (c *Controller) generateCode() string {
	buf := make([]byte, codeLength)
	for i := range buf {
		buf[i] = codeAlphabet[c.rnd.Intn(len(codeAlphabet))]
	}
	return string(buf)
}
