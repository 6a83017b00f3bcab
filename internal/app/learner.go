package app

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"live-quiz-service/internal/domain"
)

// EngineConfig carries the learner engine's timing knobs.
type EngineConfig struct {
	// TickInterval is how often Run drives the countdown. 1s in production.
	TickInterval time.Duration
	// RevealDelay is how long a consumed question stays on screen before the
	// engine advances.
	RevealDelay time.Duration
	// RevealDelayShowAnswers replaces RevealDelay when the quiz reveals the
	// correct option, giving the learner time to read it.
	RevealDelayShowAnswers time.Duration
	// SessionPollEvery bounds how stale the learner's view of the session's
	// liveness can be. This is a polling read, not a real-time guarantee.
	SessionPollEvery time.Duration
}

// DefaultEngineConfig returns the production timing knobs.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TickInterval:           time.Second,
		RevealDelay:            time.Second,
		RevealDelayShowAnswers: 3 * time.Second,
		SessionPollEvery:       10 * time.Second,
	}
}

// Engine runs one learner through a quiz: it owns the countdown, the answer
// submission pipeline, and the anti-cheat bookkeeping for that learner.
//
// All state transitions happen under one mutex, which is the concurrency
// contract the whole engine relies on: a manual submission flips the
// suppression flag before any persistence work is scheduled, and the expiry
// path re-checks that flag under the same lock, so "user answered" and
// "time's up" can never both act on a question.
type Engine struct {
	store   Store
	monitor *Monitor
	log     *zap.Logger
	cfg     EngineConfig
	now     func() time.Time
	async   func(fn func())

	quiz    domain.Quiz
	session domain.Session

	mu             sync.Mutex
	participant    domain.Participant
	questions      []domain.Question
	idx            int
	unit           countdown
	total          countdown
	answered       bool // suppression flag for the current unit
	unitExpired    bool // single-fire expiry guard
	pendingAdvance time.Time
	lastPoll       time.Time
	done           bool

	events chan Event
}

// NewEngine builds a learner engine with the real clock and asynchronous
// best-effort persistence.
func NewEngine(store Store, quiz domain.Quiz, session domain.Session, participant domain.Participant, monitor *Monitor, cfg EngineConfig, log *zap.Logger) *Engine {
	e := newEngine(store, quiz, session, participant, monitor, cfg, log, time.Now)
	e.async = func(fn func()) { go fn() }
	return e
}

// NewEngineWithClock is for deterministic tests: the clock is injected and
// persistence runs inline so assertions can observe writes immediately.
func NewEngineWithClock(store Store, quiz domain.Quiz, session domain.Session, participant domain.Participant, monitor *Monitor, cfg EngineConfig, log *zap.Logger, now func() time.Time) *Engine {
	e := newEngine(store, quiz, session, participant, monitor, cfg, log, now)
	e.async = func(fn func()) { fn() }
	return e
}

func newEngine(store Store, quiz domain.Quiz, session domain.Session, participant domain.Participant, monitor *Monitor, cfg EngineConfig, log *zap.Logger, now func() time.Time) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	questions := orderedQuestions(quiz)
	return &Engine{
		store:       store,
		monitor:     monitor,
		log:         log,
		cfg:         cfg,
		now:         now,
		quiz:        quiz,
		session:     session,
		participant: participant,
		questions:   questions,
		events:      make(chan Event, 32),
	}
}

func orderedQuestions(quiz domain.Quiz) []domain.Question {
	questions := make([]domain.Question, len(quiz.Questions))
	copy(questions, quiz.Questions)
	sort.Slice(questions, func(i, j int) bool {
		return questions[i].OrderIndex < questions[j].OrderIndex
	})
	if quiz.ShuffleQuestions {
		rand.Shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
	}
	return questions
}

// Events returns the engine's outbound stream. The channel is closed when the
// participant completes.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Participant returns the engine's current view of its participant.
func (e *Engine) Participant() domain.Participant {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.participant
}

// Done reports whether the quiz has finished for this learner.
func (e *Engine) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Begin starts the quiz: under the total policy it anchors the quiz-wide
// countdown, then presents the participant's current question (index 0 on a
// fresh join, later on a resume).
func (e *Engine) Begin() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.lastPoll = now
	if e.quiz.TimingPolicy == domain.TimingTotal {
		e.total = startCountdown(now, e.quiz.TimeLimitSeconds)
	}

	e.idx = e.participant.CurrentQuestion
	if e.idx >= len(e.questions) {
		e.completeLocked(now)
		return
	}
	e.startUnitLocked(now)
}

// Run drives the engine off a wall-clock ticker until the quiz finishes or
// the context is canceled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.halt()
			return
		case <-ticker.C:
			e.Tick()
			if e.Done() {
				return
			}
		}
	}
}

// Tick advances the engine's timeline once. Exposed so tests can drive the
// countdown deterministically with an injected clock.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}

	now := e.now()
	e.pollSessionLocked(now)
	if e.done {
		return
	}

	// Quiz-wide expiry terminates the whole run; no synthetic per-question
	// answer is written on this path.
	if e.quiz.TimingPolicy == domain.TimingTotal && e.total.expired(now) {
		e.log.Info("quiz time limit reached",
			zap.String("participant", e.participant.ID))
		e.completeLocked(now)
		return
	}

	if !e.pendingAdvance.IsZero() {
		if !now.Before(e.pendingAdvance) {
			e.advanceLocked(now)
		}
		return
	}

	if e.answered || e.unitExpired {
		return
	}

	if e.quiz.TimingPolicy == domain.TimingTotal {
		if !e.total.unlimited() {
			e.emit(Event{Type: EventTick, RemainingSeconds: e.total.remaining(now)})
		}
		return
	}

	if e.unit.unlimited() {
		return
	}
	if e.unit.expired(now) {
		e.expireUnitLocked(now)
		return
	}
	e.emit(Event{Type: EventTick, RemainingSeconds: e.unit.remaining(now)})
}

// Submit records the learner's selection for the current question. Duplicate
// submissions (including a submit that lost the race against expiry) return
// domain.ErrDuplicateAnswer and change nothing.
func (e *Engine) Submit(optionID string) (AnswerResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return AnswerResult{}, domain.ErrAlreadyCompleted
	}
	if e.answered || e.unitExpired || !e.pendingAdvance.IsZero() {
		return AnswerResult{}, domain.ErrDuplicateAnswer
	}
	question := e.questions[e.idx]
	if !question.HasOption(optionID) {
		return AnswerResult{}, domain.ErrOptionNotFound
	}

	// Suppress the countdown before any persistence is scheduled; from here
	// on an expiry firing on the next tick is a no-op.
	e.answered = true

	now := e.now()
	correct := false
	if opt, ok := question.CorrectOption(); ok {
		correct = opt.ID == optionID
	}
	timeSpent := e.timeSpentLocked(now)

	selected := optionID
	e.persistAnswerLocked(domain.Answer{
		ParticipantID:    e.participant.ID,
		QuestionID:       question.ID,
		SelectedOptionID: &selected,
		IsCorrect:        correct,
		TimeSpentSeconds: timeSpent,
		CreatedAt:        now,
	})
	if correct {
		e.participant.Score++
	}
	e.participant.LastSeen = now
	e.persistParticipantLocked()

	result := e.resultLocked(question, correct, false, timeSpent)
	e.emit(Event{Type: EventAnswerResult, Result: &result})
	e.scheduleAdvanceLocked(now)
	return result, nil
}

// expireUnitLocked fires the single-use expiry for the current question:
// a synthetic no-answer is persisted and the engine moves on after the
// reveal delay. Caller holds the lock and has checked the suppression flag.
func (e *Engine) expireUnitLocked(now time.Time) {
	e.unitExpired = true

	question := e.questions[e.idx]
	budget := e.quiz.QuestionBudget(e.idx)
	e.persistAnswerLocked(domain.Answer{
		ParticipantID:    e.participant.ID,
		QuestionID:       question.ID,
		SelectedOptionID: nil,
		IsCorrect:        false,
		TimeSpentSeconds: budget,
		CreatedAt:        now,
	})
	e.participant.LastSeen = now
	e.persistParticipantLocked()

	result := e.resultLocked(question, false, true, budget)
	e.emit(Event{Type: EventAnswerResult, Result: &result})
	e.scheduleAdvanceLocked(now)
}

func (e *Engine) resultLocked(question domain.Question, correct, timedOut bool, timeSpent int) AnswerResult {
	result := AnswerResult{
		QuestionID:       question.ID,
		Correct:          correct,
		TimedOut:         timedOut,
		TimeSpentSeconds: timeSpent,
		Score:            e.participant.Score,
	}
	if e.quiz.ShowAnswers {
		if opt, ok := question.CorrectOption(); ok {
			result.CorrectOptionID = opt.ID
		}
	}
	return result
}

// timeSpentLocked is the allocated budget minus remaining time, clamped to
// zero; unlimited units record raw elapsed time.
func (e *Engine) timeSpentLocked(now time.Time) int {
	if e.quiz.TimingPolicy == domain.TimingTotal || e.unit.unlimited() {
		return e.unit.elapsedSeconds(now)
	}
	budget := e.quiz.QuestionBudget(e.idx)
	spent := budget - e.unit.remaining(now)
	if spent < 0 {
		spent = 0
	}
	return spent
}

func (e *Engine) scheduleAdvanceLocked(now time.Time) {
	delay := e.cfg.RevealDelay
	if e.quiz.ShowAnswers {
		delay = e.cfg.RevealDelayShowAnswers
	}
	if delay <= 0 {
		e.advanceLocked(now)
		return
	}
	e.pendingAdvance = now.Add(delay)
}

func (e *Engine) advanceLocked(now time.Time) {
	e.pendingAdvance = time.Time{}
	e.idx++
	e.participant.CurrentQuestion = e.idx
	if e.idx >= len(e.questions) {
		e.completeLocked(now)
		return
	}
	e.persistParticipantLocked()
	e.startUnitLocked(now)
}

func (e *Engine) startUnitLocked(now time.Time) {
	e.answered = false
	e.unitExpired = false
	e.unit = startCountdown(now, e.quiz.QuestionBudget(e.idx))
	e.emit(Event{Type: EventQuestion, Question: e.questionViewLocked()})
}

func (e *Engine) questionViewLocked() *QuestionView {
	question := e.questions[e.idx]
	options := make([]domain.Option, len(question.Options))
	copy(options, question.Options)
	sort.Slice(options, func(i, j int) bool {
		return options[i].OrderIndex < options[j].OrderIndex
	})
	views := make([]OptionView, 0, len(options))
	for _, opt := range options {
		views = append(views, OptionView{ID: opt.ID, Text: opt.Text})
	}
	points := question.Points
	if points == 0 {
		points = 1
	}
	return &QuestionView{
		Index:         e.idx,
		Total:         len(e.questions),
		Prompt:        question.Prompt,
		Points:        points,
		BudgetSeconds: e.quiz.QuestionBudget(e.idx),
		Options:       views,
	}
}

// completeLocked marks the participant finished exactly once and closes the
// event stream.
func (e *Engine) completeLocked(now time.Time) {
	if e.done {
		return
	}
	e.done = true
	if !e.participant.Completed() {
		completed := now
		e.participant.CompletedAt = &completed
		e.participant.LastSeen = now
		e.persistParticipantLocked()
	}
	e.emit(Event{Type: EventCompleted, Completion: &Completion{
		Score:          e.participant.Score,
		TotalQuestions: len(e.questions),
		Passed:         e.quiz.PassingScore == 0 || e.participant.Score >= e.quiz.PassingScore,
	}})
	close(e.events)
}

// pollSessionLocked refreshes the learner's view of the session on the
// configured interval and heartbeats LastSeen. Discovery of a stopped
// session is bounded by SessionPollEvery.
func (e *Engine) pollSessionLocked(now time.Time) {
	if now.Sub(e.lastPoll) < e.cfg.SessionPollEvery {
		return
	}
	e.lastPoll = now

	session, err := e.store.GetSession(context.Background(), e.session.ID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			e.log.Warn("session disappeared mid-quiz",
				zap.String("session", e.session.ID),
				zap.String("participant", e.participant.ID))
			e.emit(Event{Type: EventSessionEnded})
			e.participant.Connected = false
			e.completeLocked(now)
			return
		}
		e.log.Warn("session poll failed", zap.String("session", e.session.ID), zap.Error(err))
		return
	}
	if !session.IsActive {
		e.emit(Event{Type: EventSessionEnded})
		e.participant.Connected = false
		e.completeLocked(now)
		return
	}

	e.participant.LastSeen = now
	e.persistParticipantLocked()
}

// halt marks the learner disconnected when its transport goes away without
// completing the quiz.
func (e *Engine) halt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true
	e.participant.Connected = false
	e.persistParticipantLocked()
	close(e.events)
}

// persistAnswerLocked writes best-effort: a duplicate is an invariant
// short-circuit (the row already landed via the racing path), anything else
// is logged and swallowed so the learner is never stalled by storage.
func (e *Engine) persistAnswerLocked(answer domain.Answer) {
	e.async(func() {
		if err := e.store.CreateAnswer(context.Background(), &answer); err != nil {
			if errors.Is(err, domain.ErrDuplicateAnswer) {
				e.log.Debug("duplicate answer suppressed",
					zap.String("participant", answer.ParticipantID),
					zap.String("question", answer.QuestionID))
				return
			}
			e.log.Warn("answer write failed",
				zap.String("participant", answer.ParticipantID),
				zap.String("question", answer.QuestionID),
				zap.Error(err))
		}
	})
}

func (e *Engine) persistParticipantLocked() {
	snapshot := e.participant
	e.async(func() {
		if err := e.store.UpdateParticipant(context.Background(), &snapshot); err != nil {
			e.log.Warn("participant write failed",
				zap.String("participant", snapshot.ID),
				zap.Error(err))
		}
	})
}

// emit never blocks: when the buffer is full the oldest event is dropped so a
// slow or absent reader cannot stall the tick loop.
func (e *Engine) emit(event Event) {
	select {
	case e.events <- event:
	default:
		select {
		case <-e.events:
		default:
		}
		select {
		case e.events <- event:
		default:
		}
	}
}
