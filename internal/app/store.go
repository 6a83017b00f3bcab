package app

import (
	"context"

	"live-quiz-service/internal/domain"
)

// Store is the persistence collaborator. Every call is a single-row
// transactional operation; implementations live under internal/infra.
type Store interface {
	CreateQuiz(ctx context.Context, quiz *domain.Quiz) error
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	UpdateQuiz(ctx context.Context, quiz *domain.Quiz) error
	// GetQuizQuestions returns the quiz's questions with their options,
	// ordered by question OrderIndex.
	GetQuizQuestions(ctx context.Context, quizID string) ([]domain.Question, error)

	CreateSession(ctx context.Context, session *domain.Session) error
	UpdateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	GetSessionByCode(ctx context.Context, code string) (domain.Session, error)
	ListActiveSessionsByHost(ctx context.Context, hostID string) ([]domain.Session, error)

	CreateParticipant(ctx context.Context, participant *domain.Participant) error
	UpdateParticipant(ctx context.Context, participant *domain.Participant) error
	GetParticipant(ctx context.Context, participantID string) (domain.Participant, error)
	ListParticipantsBySession(ctx context.Context, sessionID string) ([]domain.Participant, error)

	// CreateAnswer returns domain.ErrDuplicateAnswer when an answer already
	// exists for the (participant, question) pair.
	CreateAnswer(ctx context.Context, answer *domain.Answer) error
	ListAnswersByParticipant(ctx context.Context, participantID string) ([]domain.Answer, error)

	// CreateCheatEvent returns domain.ErrAlreadyCompleted when the
	// participant has already finished; this is the server-side half of the
	// guard against the client/poll reconciliation race.
	CreateCheatEvent(ctx context.Context, event *domain.CheatEvent) error
	ListCheatEventsByParticipant(ctx context.Context, participantID string) ([]domain.CheatEvent, error)
}
