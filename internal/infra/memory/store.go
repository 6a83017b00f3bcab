package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"live-quiz-service/internal/domain"
)

// Store is the in-memory implementation of app.Store: mutex-guarded maps,
// used by tests and as the fallback tier when no postgres URL is configured.
type Store struct {
	mu           sync.RWMutex
	quizzes      map[string]domain.Quiz
	sessions     map[string]domain.Session
	participants map[string]domain.Participant
	answers      map[string]domain.Answer
	cheatEvents  map[string]domain.CheatEvent
	// answerKeys indexes (participantID, questionID) pairs for the
	// at-most-one-answer invariant.
	answerKeys map[answerKey]struct{}
}

type answerKey struct {
	participantID string
	questionID    string
}

func NewStore() *Store {
	return &Store{
		quizzes:      make(map[string]domain.Quiz),
		sessions:     make(map[string]domain.Session),
		participants: make(map[string]domain.Participant),
		answers:      make(map[string]domain.Answer),
		cheatEvents:  make(map[string]domain.CheatEvent),
		answerKeys:   make(map[answerKey]struct{}),
	}
}

func (s *Store) CreateQuiz(_ context.Context, quiz *domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if quiz.ID == "" {
		quiz.ID = uuid.NewString()
	}
	s.quizzes[quiz.ID] = cloneQuiz(*quiz)
	return nil
}

func (s *Store) GetQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return cloneQuiz(quiz), nil
}

func (s *Store) UpdateQuiz(_ context.Context, quiz *domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[quiz.ID]; !ok {
		return domain.ErrQuizNotFound
	}
	s.quizzes[quiz.ID] = cloneQuiz(*quiz)
	return nil
}

func (s *Store) GetQuizQuestions(_ context.Context, quizID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return nil, domain.ErrQuizNotFound
	}
	questions := make([]domain.Question, len(quiz.Questions))
	copy(questions, quiz.Questions)
	sort.Slice(questions, func(i, j int) bool {
		return questions[i].OrderIndex < questions[j].OrderIndex
	})
	return questions, nil
}

func (s *Store) CreateSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	s.sessions[session.ID] = *session
	return nil
}

func (s *Store) UpdateSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	s.sessions[session.ID] = *session
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) GetSessionByCode(_ context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.Code == code {
			return session, nil
		}
	}
	return domain.Session{}, domain.ErrSessionNotFound
}

func (s *Store) ListActiveSessionsByHost(_ context.Context, hostID string) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sessions []domain.Session
	for _, session := range s.sessions {
		if session.HostID == hostID && session.IsActive {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions, nil
}

func (s *Store) CreateParticipant(_ context.Context, participant *domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if participant.ID == "" {
		participant.ID = uuid.NewString()
	}
	s.participants[participant.ID] = *participant
	return nil
}

func (s *Store) UpdateParticipant(_ context.Context, participant *domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[participant.ID]; !ok {
		return domain.ErrParticipantNotFound
	}
	s.participants[participant.ID] = *participant
	return nil
}

func (s *Store) GetParticipant(_ context.Context, participantID string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	participant, ok := s.participants[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return participant, nil
}

func (s *Store) ListParticipantsBySession(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var participants []domain.Participant
	for _, participant := range s.participants {
		if participant.SessionID == sessionID {
			participants = append(participants, participant)
		}
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})
	return participants, nil
}

func (s *Store) CreateAnswer(_ context.Context, answer *domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey{participantID: answer.ParticipantID, questionID: answer.QuestionID}
	if _, exists := s.answerKeys[key]; exists {
		return domain.ErrDuplicateAnswer
	}
	if answer.ID == "" {
		answer.ID = uuid.NewString()
	}
	s.answerKeys[key] = struct{}{}
	s.answers[answer.ID] = *answer
	return nil
}

func (s *Store) ListAnswersByParticipant(_ context.Context, participantID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var answers []domain.Answer
	for _, answer := range s.answers {
		if answer.ParticipantID == participantID {
			answers = append(answers, answer)
		}
	}
	sort.Slice(answers, func(i, j int) bool {
		return answers[i].CreatedAt.Before(answers[j].CreatedAt)
	})
	return answers, nil
}

func (s *Store) CreateCheatEvent(_ context.Context, event *domain.CheatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	participant, ok := s.participants[event.ParticipantID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if participant.Completed() {
		return domain.ErrAlreadyCompleted
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	s.cheatEvents[event.ID] = *event
	return nil
}

func (s *Store) ListCheatEventsByParticipant(_ context.Context, participantID string) ([]domain.CheatEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []domain.CheatEvent
	for _, event := range s.cheatEvents {
		if event.ParticipantID == participantID {
			events = append(events, event)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

func cloneQuiz(quiz domain.Quiz) domain.Quiz {
	questions := make([]domain.Question, len(quiz.Questions))
	copy(questions, quiz.Questions)
	for i := range questions {
		options := make([]domain.Option, len(questions[i].Options))
		copy(options, questions[i].Options)
		questions[i].Options = options
	}
	quiz.Questions = questions
	return quiz
}
