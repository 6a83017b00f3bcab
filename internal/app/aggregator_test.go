package app_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

type aggFixture struct {
	store      *memory.Store
	aggregator *app.Aggregator
	clock      *fakeClock
	session    domain.Session
}

func newAggFixture(t *testing.T, questions int) *aggFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	clock := newFakeClock()

	quiz := testQuiz(domain.TimingPerQuestion, 30, questions)
	if err := store.CreateQuiz(ctx, &quiz); err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	session := domain.Session{
		ID: "session-1", QuizID: quiz.ID, HostID: quiz.HostID,
		Code: "XYZ789", IsActive: true, StartedAt: clock.Now(),
	}
	if err := store.CreateSession(ctx, &session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	controller := app.NewControllerWithClock(store, zap.NewNop(), clock.Now)
	aggregator := app.NewAggregatorWithClock(store, controller, app.DefaultAggregatorConfig(), zap.NewNop(), clock.Now)
	return &aggFixture{store: store, aggregator: aggregator, clock: clock, session: session}
}

func (f *aggFixture) addParticipant(t *testing.T, id string) domain.Participant {
	t.Helper()
	p := domain.Participant{
		ID: id, SessionID: f.session.ID, Name: id,
		Connected: true, JoinedAt: f.clock.Now(), LastSeen: f.clock.Now(),
	}
	if err := f.store.CreateParticipant(context.Background(), &p); err != nil {
		t.Fatalf("create participant: %v", err)
	}
	return p
}

func (f *aggFixture) addAnswer(t *testing.T, participantID, questionID string, seconds int) {
	t.Helper()
	selected := questionID + "-b"
	answer := domain.Answer{
		ParticipantID: participantID, QuestionID: questionID,
		SelectedOptionID: &selected, IsCorrect: true,
		TimeSpentSeconds: seconds, CreatedAt: f.clock.Now(),
	}
	if err := f.store.CreateAnswer(context.Background(), &answer); err != nil {
		t.Fatalf("create answer: %v", err)
	}
}

func (f *aggFixture) row(t *testing.T, participantID string) domain.MonitorRow {
	t.Helper()
	snapshot, err := f.aggregator.Snapshot(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for _, row := range snapshot.Rows {
		if row.ParticipantID == participantID {
			return row
		}
	}
	t.Fatalf("participant %s not in snapshot", participantID)
	return domain.MonitorRow{}
}

func TestProgressPercentCountsCheatsAsConsumed(t *testing.T) {
	f := newAggFixture(t, 4)
	p := f.addParticipant(t, "p1")
	f.addAnswer(t, p.ID, "q1", 10)

	p.CheatAttempts = 1
	if err := f.store.UpdateParticipant(context.Background(), &p); err != nil {
		t.Fatalf("update participant: %v", err)
	}
	event := domain.CheatEvent{ParticipantID: p.ID, Type: domain.CheatTabSwitch, CreatedAt: f.clock.Now()}
	if err := f.store.CreateCheatEvent(context.Background(), &event); err != nil {
		t.Fatalf("create cheat event: %v", err)
	}

	row := f.row(t, "p1")
	if row.ProgressPercent != 50 {
		t.Fatalf("expected 50%% (1 answer + 1 cheat of 4), got %d", row.ProgressPercent)
	}
	if !row.Anomaly {
		t.Fatal("expected anomaly flag with a recorded cheat")
	}
}

func TestProgressPercentCapsAtHundred(t *testing.T) {
	f := newAggFixture(t, 2)
	p := f.addParticipant(t, "p1")
	f.addAnswer(t, p.ID, "q1", 10)
	f.addAnswer(t, p.ID, "q2", 10)

	p.CheatAttempts = 3
	if err := f.store.UpdateParticipant(context.Background(), &p); err != nil {
		t.Fatalf("update participant: %v", err)
	}

	if row := f.row(t, "p1"); row.ProgressPercent != 100 {
		t.Fatalf("expected progress capped at 100, got %d", row.ProgressPercent)
	}
}

func TestProgressMonotonicallyNonDecreasing(t *testing.T) {
	f := newAggFixture(t, 3)
	p := f.addParticipant(t, "p1")

	last := -1
	for i := 1; i <= 3; i++ {
		f.addAnswer(t, p.ID, fmt.Sprintf("q%d", i), 10)
		row := f.row(t, "p1")
		if row.ProgressPercent < last {
			t.Fatalf("progress regressed from %d to %d", last, row.ProgressPercent)
		}
		if row.ProgressPercent > 100 {
			t.Fatalf("progress exceeded 100: %d", row.ProgressPercent)
		}
		last = row.ProgressPercent
	}
	if last != 100 {
		t.Fatalf("expected 100%% after all questions, got %d", last)
	}
}

func TestAnomalyBand(t *testing.T) {
	cases := []struct {
		name    string
		seconds int
		want    bool
	}{
		{"too fast", 1, true},
		{"in band", 10, false},
		{"too slow", 40, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAggFixture(t, 3)
			p := f.addParticipant(t, "p1")
			f.addAnswer(t, p.ID, "q1", tc.seconds)
			if row := f.row(t, "p1"); row.Anomaly != tc.want {
				t.Fatalf("mean %ds: expected anomaly=%v, got %v", tc.seconds, tc.want, row.Anomaly)
			}
		})
	}
}

func TestNoAnswersNoTimingAnomaly(t *testing.T) {
	f := newAggFixture(t, 3)
	f.addParticipant(t, "p1")
	if row := f.row(t, "p1"); row.Anomaly {
		t.Fatal("no answers and no cheats must not be anomalous")
	}
}

func TestDerivedConnectivityAndSelfHealing(t *testing.T) {
	f := newAggFixture(t, 3)
	p := f.addParticipant(t, "p1")

	if row := f.row(t, "p1"); !row.Connected {
		t.Fatal("fresh participant should derive as connected")
	}

	// Past the 2-minute window the derived state flips, and the stored flag
	// is healed to match.
	f.clock.Advance(3 * time.Minute)
	if row := f.row(t, "p1"); row.Connected {
		t.Fatal("stale participant still derived as connected")
	}
	healed, err := f.store.GetParticipant(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if healed.Connected {
		t.Fatal("stored connected flag was not healed")
	}
}

func TestEndedSessionHealsIncompleteParticipants(t *testing.T) {
	f := newAggFixture(t, 3)
	p := f.addParticipant(t, "p1")

	session := f.session
	ended := f.clock.Now()
	session.IsActive = false
	session.EndedAt = &ended
	if err := f.store.UpdateSession(context.Background(), &session); err != nil {
		t.Fatalf("update session: %v", err)
	}

	row := f.row(t, "p1")
	if !row.Completed || row.ProgressPercent != 100 {
		t.Fatalf("expected healed completion at 100%%, got %+v", row)
	}
	healed, err := f.store.GetParticipant(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if !healed.Completed() {
		t.Fatal("completion was not written back to the store")
	}
}

func TestCompletedParticipantAlwaysHundredAndDisconnected(t *testing.T) {
	f := newAggFixture(t, 4)
	p := f.addParticipant(t, "p1")
	f.addAnswer(t, p.ID, "q1", 10)

	done := f.clock.Now()
	p.CompletedAt = &done
	if err := f.store.UpdateParticipant(context.Background(), &p); err != nil {
		t.Fatalf("update participant: %v", err)
	}

	row := f.row(t, "p1")
	if row.ProgressPercent != 100 {
		t.Fatalf("completed participant must report 100%%, got %d", row.ProgressPercent)
	}
	if row.Connected {
		t.Fatal("completed participant must not derive as connected")
	}
}

func TestWatchDeliversSnapshots(t *testing.T) {
	f := newAggFixture(t, 2)
	f.addParticipant(t, "p1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	snapshots, stop := f.aggregator.Watch(ctx, f.session.ID)
	defer stop()

	select {
	case snapshot := <-snapshots:
		if snapshot.SessionID != f.session.ID || len(snapshot.Rows) != 1 {
			t.Fatalf("unexpected snapshot: %+v", snapshot)
		}
		if snapshot.Code != "XYZ789" {
			t.Fatalf("expected join code in snapshot, got %q", snapshot.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}
}
