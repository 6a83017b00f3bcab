package app

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"live-quiz-service/internal/domain"
)

// Lobby turns a join code into a running learner: it resolves the session,
// loads the quiz content, and registers the participant record the engine
// will own.
type Lobby struct {
	store   Store
	quizzes QuizSource
	log     *zap.Logger
	now     func() time.Time
}

// QuizSource loads quiz content with questions and options. The store
// satisfies it directly; the redis cache wraps it.
type QuizSource interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	GetQuizQuestions(ctx context.Context, quizID string) ([]domain.Question, error)
}

func NewLobby(store Store, quizzes QuizSource, log *zap.Logger) *Lobby {
	return NewLobbyWithClock(store, quizzes, log, time.Now)
}

// NewLobbyWithClock is for deterministic timestamps in tests.
func NewLobbyWithClock(store Store, quizzes QuizSource, log *zap.Logger, now func() time.Time) *Lobby {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lobby{store: store, quizzes: quizzes, log: log, now: now}
}

// Join registers a learner against an active session's code and returns
// everything a learner engine needs.
func (l *Lobby) Join(ctx context.Context, code, name string) (domain.Session, domain.Quiz, domain.Participant, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	session, err := l.store.GetSessionByCode(ctx, code)
	if err != nil {
		return domain.Session{}, domain.Quiz{}, domain.Participant{}, err
	}
	if !session.IsActive {
		return domain.Session{}, domain.Quiz{}, domain.Participant{}, domain.ErrSessionEnded
	}

	quiz, err := l.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.Session{}, domain.Quiz{}, domain.Participant{}, err
	}
	if len(quiz.Questions) == 0 {
		questions, err := l.quizzes.GetQuizQuestions(ctx, session.QuizID)
		if err != nil {
			return domain.Session{}, domain.Quiz{}, domain.Participant{}, err
		}
		quiz.Questions = questions
	}

	now := l.now()
	participant := domain.Participant{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Name:      name,
		Connected: true,
		JoinedAt:  now,
		LastSeen:  now,
	}
	if err := l.store.CreateParticipant(ctx, &participant); err != nil {
		return domain.Session{}, domain.Quiz{}, domain.Participant{}, err
	}

	l.log.Info("participant joined",
		zap.String("session", session.ID),
		zap.String("participant", participant.ID),
		zap.String("name", name))
	return session, quiz, participant, nil
}
