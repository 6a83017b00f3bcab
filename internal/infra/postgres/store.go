package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-quiz-service/internal/domain"
)

// Store is the pgxpool-backed implementation of app.Store. Every method is a
// single-row transactional statement; the at-most-one-answer invariant rides
// on the (participant_id, question_id) unique index installed by migrations.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateQuiz(ctx context.Context, quiz *domain.Quiz) error {
	if quiz.ID == "" {
		quiz.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quizzes (id, host_id, title, timing_policy, time_limit_seconds, shuffle_questions, show_answers, anti_cheat, passing_score)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		quiz.ID, quiz.HostID, quiz.Title, string(quiz.TimingPolicy), quiz.TimeLimitSeconds,
		quiz.ShuffleQuestions, quiz.ShowAnswers, quiz.AntiCheat, quiz.PassingScore)
	if err != nil {
		return fmt.Errorf("create quiz: %w", err)
	}
	for i := range quiz.Questions {
		if err := s.insertQuestion(ctx, quiz.ID, &quiz.Questions[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertQuestion(ctx context.Context, quizID string, question *domain.Question) error {
	if question.ID == "" {
		question.ID = uuid.NewString()
	}
	question.QuizID = quizID
	_, err := s.pool.Exec(ctx,
		`INSERT INTO questions (id, quiz_id, order_index, prompt, points, time_limit_seconds)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		question.ID, quizID, question.OrderIndex, question.Prompt, question.Points, question.TimeLimitSeconds)
	if err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	for j := range question.Options {
		opt := &question.Options[j]
		if opt.ID == "" {
			opt.ID = uuid.NewString()
		}
		opt.QuestionID = question.ID
		_, err := s.pool.Exec(ctx,
			`INSERT INTO options (id, question_id, text, correct, order_index) VALUES ($1,$2,$3,$4,$5)`,
			opt.ID, question.ID, opt.Text, opt.Correct, opt.OrderIndex)
		if err != nil {
			return fmt.Errorf("create option: %w", err)
		}
	}
	return nil
}

func (s *Store) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	var policy string
	err := s.pool.QueryRow(ctx,
		`SELECT id, host_id, title, timing_policy, time_limit_seconds, shuffle_questions, show_answers, anti_cheat, passing_score
		 FROM quizzes WHERE id=$1`, quizID).
		Scan(&quiz.ID, &quiz.HostID, &quiz.Title, &policy, &quiz.TimeLimitSeconds,
			&quiz.ShuffleQuestions, &quiz.ShowAnswers, &quiz.AntiCheat, &quiz.PassingScore)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Quiz{}, domain.ErrQuizNotFound
		}
		return domain.Quiz{}, fmt.Errorf("get quiz: %w", err)
	}
	quiz.TimingPolicy = domain.TimingPolicy(policy)
	quiz.Questions, err = s.GetQuizQuestions(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

func (s *Store) UpdateQuiz(ctx context.Context, quiz *domain.Quiz) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quizzes SET title=$2, timing_policy=$3, time_limit_seconds=$4, shuffle_questions=$5, show_answers=$6, anti_cheat=$7, passing_score=$8
		 WHERE id=$1`,
		quiz.ID, quiz.Title, string(quiz.TimingPolicy), quiz.TimeLimitSeconds,
		quiz.ShuffleQuestions, quiz.ShowAnswers, quiz.AntiCheat, quiz.PassingScore)
	if err != nil {
		return fmt.Errorf("update quiz: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}

func (s *Store) GetQuizQuestions(ctx context.Context, quizID string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, quiz_id, order_index, prompt, points, time_limit_seconds
		 FROM questions WHERE quiz_id=$1 ORDER BY order_index`, quizID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.QuizID, &q.OrderIndex, &q.Prompt, &q.Points, &q.TimeLimitSeconds); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range questions {
		options, err := s.listOptions(ctx, questions[i].ID)
		if err != nil {
			return nil, err
		}
		questions[i].Options = options
	}
	return questions, nil
}

func (s *Store) listOptions(ctx context.Context, questionID string) ([]domain.Option, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, question_id, text, correct, order_index FROM options WHERE question_id=$1 ORDER BY order_index`,
		questionID)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	defer rows.Close()

	var options []domain.Option
	for rows.Next() {
		var opt domain.Option
		if err := rows.Scan(&opt.ID, &opt.QuestionID, &opt.Text, &opt.Correct, &opt.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		options = append(options, opt)
	}
	return options, rows.Err()
}

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, quiz_id, host_id, code, is_active, current_question, started_at, ended_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		session.ID, session.QuizID, session.HostID, session.Code, session.IsActive,
		session.CurrentQuestion, session.StartedAt, session.EndedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, session *domain.Session) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET is_active=$2, current_question=$3, ended_at=$4 WHERE id=$1`,
		session.ID, session.IsActive, session.CurrentQuestion, session.EndedAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.scanSession(s.pool.QueryRow(ctx,
		`SELECT id, quiz_id, host_id, code, is_active, current_question, started_at, ended_at
		 FROM sessions WHERE id=$1`, sessionID))
}

func (s *Store) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	return s.scanSession(s.pool.QueryRow(ctx,
		`SELECT id, quiz_id, host_id, code, is_active, current_question, started_at, ended_at
		 FROM sessions WHERE code=$1 AND is_active ORDER BY started_at DESC LIMIT 1`, code))
}

func (s *Store) scanSession(row pgx.Row) (domain.Session, error) {
	var session domain.Session
	err := row.Scan(&session.ID, &session.QuizID, &session.HostID, &session.Code,
		&session.IsActive, &session.CurrentQuestion, &session.StartedAt, &session.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *Store) ListActiveSessionsByHost(ctx context.Context, hostID string) ([]domain.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, quiz_id, host_id, code, is_active, current_question, started_at, ended_at
		 FROM sessions WHERE host_id=$1 AND is_active ORDER BY started_at`, hostID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var session domain.Session
		if err := rows.Scan(&session.ID, &session.QuizID, &session.HostID, &session.Code,
			&session.IsActive, &session.CurrentQuestion, &session.StartedAt, &session.EndedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *Store) CreateParticipant(ctx context.Context, participant *domain.Participant) error {
	if participant.ID == "" {
		participant.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO participants (id, session_id, name, score, cheat_attempts, current_question, connected, joined_at, last_seen, completed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		participant.ID, participant.SessionID, participant.Name, participant.Score,
		participant.CheatAttempts, participant.CurrentQuestion, participant.Connected,
		participant.JoinedAt, participant.LastSeen, participant.CompletedAt)
	if err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

func (s *Store) UpdateParticipant(ctx context.Context, participant *domain.Participant) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE participants SET score=$2, cheat_attempts=$3, current_question=$4, connected=$5, last_seen=$6, completed_at=$7
		 WHERE id=$1`,
		participant.ID, participant.Score, participant.CheatAttempts, participant.CurrentQuestion,
		participant.Connected, participant.LastSeen, participant.CompletedAt)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrParticipantNotFound
	}
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, participantID string) (domain.Participant, error) {
	var p domain.Participant
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, name, score, cheat_attempts, current_question, connected, joined_at, last_seen, completed_at
		 FROM participants WHERE id=$1`, participantID).
		Scan(&p.ID, &p.SessionID, &p.Name, &p.Score, &p.CheatAttempts, &p.CurrentQuestion,
			&p.Connected, &p.JoinedAt, &p.LastSeen, &p.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Participant{}, domain.ErrParticipantNotFound
		}
		return domain.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func (s *Store) ListParticipantsBySession(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, name, score, cheat_attempts, current_question, connected, joined_at, last_seen, completed_at
		 FROM participants WHERE session_id=$1 ORDER BY joined_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Name, &p.Score, &p.CheatAttempts, &p.CurrentQuestion,
			&p.Connected, &p.JoinedAt, &p.LastSeen, &p.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// CreateAnswer relies on ON CONFLICT against the unique index: a lost race
// inserts nothing and reports domain.ErrDuplicateAnswer.
func (s *Store) CreateAnswer(ctx context.Context, answer *domain.Answer) error {
	if answer.ID == "" {
		answer.ID = uuid.NewString()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO answers (id, participant_id, question_id, selected_option_id, is_correct, time_spent_seconds, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (participant_id, question_id) DO NOTHING`,
		answer.ID, answer.ParticipantID, answer.QuestionID, answer.SelectedOptionID,
		answer.IsCorrect, answer.TimeSpentSeconds, answer.CreatedAt)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateAnswer
	}
	return nil
}

func (s *Store) ListAnswersByParticipant(ctx context.Context, participantID string) ([]domain.Answer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, participant_id, question_id, selected_option_id, is_correct, time_spent_seconds, created_at
		 FROM answers WHERE participant_id=$1 ORDER BY created_at`, participantID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	var answers []domain.Answer
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.ID, &a.ParticipantID, &a.QuestionID, &a.SelectedOptionID,
			&a.IsCorrect, &a.TimeSpentSeconds, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// CreateCheatEvent inserts only while the participant is still in progress;
// the completion check and the insert are one statement so the client/server
// race cannot slip an event in after completion landed.
func (s *Store) CreateCheatEvent(ctx context.Context, event *domain.CheatEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO cheat_events (id, participant_id, type, detail, created_at)
		 SELECT $1, $2, $3, $4, $5
		 WHERE EXISTS (SELECT 1 FROM participants WHERE id=$2 AND completed_at IS NULL)`,
		event.ID, event.ParticipantID, string(event.Type), event.Detail, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("create cheat event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM participants WHERE id=$1)`, event.ParticipantID).Scan(&exists); err != nil {
			return fmt.Errorf("check participant: %w", err)
		}
		if !exists {
			return domain.ErrParticipantNotFound
		}
		return domain.ErrAlreadyCompleted
	}
	return nil
}

func (s *Store) ListCheatEventsByParticipant(ctx context.Context, participantID string) ([]domain.CheatEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, participant_id, type, detail, created_at FROM cheat_events WHERE participant_id=$1 ORDER BY created_at`,
		participantID)
	if err != nil {
		return nil, fmt.Errorf("list cheat events: %w", err)
	}
	defer rows.Close()

	var events []domain.CheatEvent
	for rows.Next() {
		var e domain.CheatEvent
		var cheatType string
		if err := rows.Scan(&e.ID, &e.ParticipantID, &cheatType, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cheat event: %w", err)
		}
		e.Type = domain.CheatType(cheatType)
		events = append(events, e)
	}
	return events, rows.Err()
}
