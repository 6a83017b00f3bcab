package app_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

func newTestController(t *testing.T, questions int) (*memory.Store, *app.Controller, *fakeClock) {
	t.Helper()
	store := memory.NewStore()
	clock := newFakeClock()
	quiz := testQuiz(domain.TimingPerQuestion, 30, questions)
	if err := store.CreateQuiz(context.Background(), &quiz); err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	return store, app.NewControllerWithClock(store, zap.NewNop(), clock.Now), clock
}

func TestStartIsIdempotentPerHostAndQuiz(t *testing.T) {
	ctx := context.Background()
	_, controller, _ := newTestController(t, 3)

	first, err := controller.Start(ctx, "quiz-1", "host-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(first.Code) != 6 {
		t.Fatalf("expected 6-char join code, got %q", first.Code)
	}
	if !first.IsActive || first.CurrentQuestion != 0 {
		t.Fatalf("expected fresh active session at index 0, got %+v", first)
	}

	second, err := controller.Start(ctx, "quiz-1", "host-1")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if second.ID != first.ID || second.Code != first.Code {
		t.Fatalf("restart created a duplicate session: %+v vs %+v", first, second)
	}
}

func TestStartUnknownQuiz(t *testing.T) {
	_, controller, _ := newTestController(t, 1)
	if _, err := controller.Start(context.Background(), "quiz-missing", "host-1"); err != domain.ErrQuizNotFound {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

func TestAdvanceBoundsAndAutoStop(t *testing.T) {
	ctx := context.Background()
	_, controller, _ := newTestController(t, 3)

	session, err := controller.Start(ctx, "quiz-1", "host-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Backward at the first question clamps to zero.
	session, err = controller.Advance(ctx, session.ID, -1)
	if err != nil {
		t.Fatalf("advance back: %v", err)
	}
	if session.CurrentQuestion != 0 {
		t.Fatalf("expected index clamped to 0, got %d", session.CurrentQuestion)
	}

	for want := 1; want <= 2; want++ {
		session, err = controller.Advance(ctx, session.ID, 1)
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		if session.CurrentQuestion != want {
			t.Fatalf("expected index %d, got %d", want, session.CurrentQuestion)
		}
	}

	// Forward past the last question ends the session.
	session, err = controller.Advance(ctx, session.ID, 1)
	if err != nil {
		t.Fatalf("final advance: %v", err)
	}
	if session.IsActive || session.EndedAt == nil {
		t.Fatalf("expected session stopped after last question, got %+v", session)
	}
}

func TestStopForcesCompletionAndDisconnect(t *testing.T) {
	ctx := context.Background()
	store, controller, clock := newTestController(t, 3)

	session, err := controller.Start(ctx, "quiz-1", "host-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	inProgress := domain.Participant{
		ID: "p-running", SessionID: session.ID, Name: "Alice",
		Connected: true, JoinedAt: clock.Now(), LastSeen: clock.Now(),
	}
	finishedAt := clock.Now()
	alreadyDone := domain.Participant{
		ID: "p-done", SessionID: session.ID, Name: "Bob",
		Connected: false, JoinedAt: clock.Now(), LastSeen: clock.Now(),
		CompletedAt: &finishedAt,
	}
	for _, p := range []*domain.Participant{&inProgress, &alreadyDone} {
		if err := store.CreateParticipant(ctx, p); err != nil {
			t.Fatalf("create participant: %v", err)
		}
	}

	clock.Advance(time.Minute)
	stopped, err := controller.Stop(ctx, session.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.IsActive || stopped.EndedAt == nil {
		t.Fatalf("expected inactive session with end timestamp, got %+v", stopped)
	}

	healed, err := store.GetParticipant(ctx, "p-running")
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if !healed.Completed() || healed.Connected {
		t.Fatalf("expected forced completion and disconnect, got %+v", healed)
	}

	untouched, err := store.GetParticipant(ctx, "p-done")
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if !untouched.CompletedAt.Equal(finishedAt) {
		t.Fatalf("completion timestamp must be set exactly once, got %+v", untouched.CompletedAt)
	}

	// Stop is idempotent.
	again, err := controller.Stop(ctx, session.ID)
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if !again.EndedAt.Equal(*stopped.EndedAt) {
		t.Fatal("second stop moved the end timestamp")
	}
}

func TestElapsedFormat(t *testing.T) {
	_, controller, clock := newTestController(t, 1)
	session := domain.Session{StartedAt: clock.Now().Add(-95 * time.Second)}
	if got := controller.Elapsed(session); got != "01:35" {
		t.Fatalf("expected 01:35, got %q", got)
	}
}
