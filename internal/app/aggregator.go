package app

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/domain"
)

// AggregatorConfig carries the proctor-view derivation knobs.
type AggregatorConfig struct {
	// PollInterval is how often Watch recomputes the monitor snapshot.
	PollInterval time.Duration
	// ConnectivityWindow bounds how long ago a participant's last activity
	// may be for them to still count as connected.
	ConnectivityWindow time.Duration
	// AnomalyFastSecs / AnomalySlowSecs bound the plausible mean per-answer
	// time; means outside the band raise the anomaly flag.
	AnomalyFastSecs float64
	AnomalySlowSecs float64
}

// DefaultAggregatorConfig returns the production derivation knobs.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		PollInterval:       5 * time.Second,
		ConnectivityWindow: 2 * time.Minute,
		AnomalyFastSecs:    2,
		AnomalySlowSecs:    30,
	}
}

// Aggregator derives the proctor's per-participant monitoring rows from
// persisted participant, answer, and cheat-event records. It is a read path
// with one deliberate exception: when derived connectivity or completion
// disagrees with stored flags it writes the correction back, healing state
// left behind by vanished clients.
type Aggregator struct {
	store      Store
	controller *Controller
	log        *zap.Logger
	cfg        AggregatorConfig
	now        func() time.Time
}

func NewAggregator(store Store, controller *Controller, cfg AggregatorConfig, log *zap.Logger) *Aggregator {
	return NewAggregatorWithClock(store, controller, cfg, log, time.Now)
}

// NewAggregatorWithClock is for deterministic tests.
func NewAggregatorWithClock(store Store, controller *Controller, cfg AggregatorConfig, log *zap.Logger, now func() time.Time) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{store: store, controller: controller, log: log, cfg: cfg, now: now}
}

// Watch polls the session on the configured interval and delivers snapshots
// until the context is done or the returned stop function is called. The
// channel never blocks the poll loop; a slow consumer sees the latest
// snapshot, not every intermediate one.
func (a *Aggregator) Watch(ctx context.Context, sessionID string) (<-chan domain.MonitorSnapshot, func()) {
	snapshots := make(chan domain.MonitorSnapshot, 1)
	watchCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(snapshots)
		ticker := time.NewTicker(a.cfg.PollInterval)
		defer ticker.Stop()
		for {
			snapshot, err := a.Snapshot(watchCtx, sessionID)
			if err != nil {
				a.log.Warn("monitor poll failed", zap.String("session", sessionID), zap.Error(err))
			} else {
				select {
				case snapshots <- snapshot:
				default:
					select {
					case <-snapshots:
					default:
					}
					select {
					case snapshots <- snapshot:
					default:
					}
				}
			}
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return snapshots, cancel
}

// Snapshot recomputes one monitor view for the session.
func (a *Aggregator) Snapshot(ctx context.Context, sessionID string) (domain.MonitorSnapshot, error) {
	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.MonitorSnapshot{}, err
	}
	questions, err := a.store.GetQuizQuestions(ctx, session.QuizID)
	if err != nil {
		return domain.MonitorSnapshot{}, err
	}
	participants, err := a.store.ListParticipantsBySession(ctx, sessionID)
	if err != nil {
		return domain.MonitorSnapshot{}, err
	}

	now := a.now()
	rows := make([]domain.MonitorRow, len(participants))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range participants {
		i := i
		g.Go(func() error {
			rows[i] = a.participantRow(groupCtx, session, participants[i], len(questions), now)
			return nil
		})
	}
	_ = g.Wait()

	return domain.MonitorSnapshot{
		SessionID: session.ID,
		Code:      session.Code,
		Elapsed:   a.controller.Elapsed(session),
		Rows:      rows,
		UpdatedAt: now,
	}, nil
}

func (a *Aggregator) participantRow(ctx context.Context, session domain.Session, p domain.Participant, totalQuestions int, now time.Time) domain.MonitorRow {
	var (
		answers []domain.Answer
		cheats  []domain.CheatEvent
	)
	g, fetchCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		answers, err = a.store.ListAnswersByParticipant(fetchCtx, p.ID)
		return err
	})
	g.Go(func() error {
		// Cheat history is best-effort; the counter on the participant row
		// covers a failed read.
		events, err := a.store.ListCheatEventsByParticipant(fetchCtx, p.ID)
		if err != nil {
			a.log.Warn("cheat event read failed", zap.String("participant", p.ID), zap.Error(err))
			return nil
		}
		cheats = events
		return nil
	})
	if err := g.Wait(); err != nil {
		a.log.Warn("answer read failed", zap.String("participant", p.ID), zap.Error(err))
		return a.storedOnlyRow(p, now)
	}

	cheatCount := p.CheatAttempts
	if len(cheats) > cheatCount {
		cheatCount = len(cheats)
	}

	p = a.healParticipant(ctx, session, p, len(answers), cheatCount, totalQuestions, now)

	mean := meanAnswerSeconds(answers)
	row := domain.MonitorRow{
		ParticipantID:   p.ID,
		Name:            p.Name,
		Connected:       a.derivedConnected(p, now),
		Completed:       p.Completed(),
		Score:           p.Score,
		AnsweredCount:   len(answers),
		CheatAttempts:   cheatCount,
		ProgressPercent: progressPercent(p, len(answers), cheatCount, totalQuestions),
		MeanAnswerSecs:  mean,
		ElapsedSeconds:  int(now.Sub(p.JoinedAt) / time.Second),
	}
	row.Anomaly = cheatCount > 0 ||
		(len(answers) > 0 && (mean < a.cfg.AnomalyFastSecs || mean > a.cfg.AnomalySlowSecs))
	return row
}

// storedOnlyRow degrades to the participant record alone when the answer
// read failed; progress from a previous poll can only be understated by the
// stored pointer, never by guessing.
func (a *Aggregator) storedOnlyRow(p domain.Participant, now time.Time) domain.MonitorRow {
	return domain.MonitorRow{
		ParticipantID: p.ID,
		Name:          p.Name,
		Connected:     a.derivedConnected(p, now),
		Completed:     p.Completed(),
		Score:         p.Score,
		CheatAttempts: p.CheatAttempts,
		ProgressPercent: func() int {
			if p.Completed() {
				return 100
			}
			return 0
		}(),
		Anomaly:        p.CheatAttempts > 0,
		ElapsedSeconds: int(now.Sub(p.JoinedAt) / time.Second),
	}
}

func (a *Aggregator) derivedConnected(p domain.Participant, now time.Time) bool {
	if p.Completed() {
		return false
	}
	return now.Sub(p.LastSeen) <= a.cfg.ConnectivityWindow
}

// healParticipant reconciles stored flags with derived state: stale
// connections are dropped, and a participant whose session ended or whose
// consumed-question count covers the quiz gets their completion set. Writes
// are best-effort.
func (a *Aggregator) healParticipant(ctx context.Context, session domain.Session, p domain.Participant, answered, cheats, totalQuestions int, now time.Time) domain.Participant {
	changed := false

	if p.Connected && !a.derivedConnected(p, now) {
		p.Connected = false
		changed = true
	}
	if !p.Completed() {
		sessionGone := !session.IsActive
		consumedAll := totalQuestions > 0 && answered+cheats >= totalQuestions
		if sessionGone || consumedAll {
			completed := now
			p.CompletedAt = &completed
			p.Connected = false
			changed = true
		}
	}

	if changed {
		if err := a.store.UpdateParticipant(ctx, &p); err != nil {
			a.log.Warn("participant heal write failed", zap.String("participant", p.ID), zap.Error(err))
		}
	}
	return p
}

// progressPercent treats each cheat attempt as a consumed question, since a
// detected cheat forces an advance without an answer row.
func progressPercent(p domain.Participant, answered, cheats, totalQuestions int) int {
	if p.Completed() {
		return 100
	}
	if totalQuestions <= 0 {
		return 0
	}
	percent := int(math.Round(100 * float64(answered+cheats) / float64(totalQuestions)))
	if percent > 100 {
		percent = 100
	}
	return percent
}

func meanAnswerSeconds(answers []domain.Answer) float64 {
	if len(answers) == 0 {
		return 0
	}
	total := 0
	for _, answer := range answers {
		total += answer.TimeSpentSeconds
	}
	return float64(total) / float64(len(answers))
}
