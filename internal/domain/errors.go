package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrSessionNotFound is returned when no session matches the id or code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionEnded is returned when joining or acting on an inactive session.
	ErrSessionEnded = errors.New("session has ended")
	// ErrParticipantNotFound is returned when a learner tries to act before joining.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrQuestionNotFound indicates a question index or ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrDuplicateAnswer indicates an answer already exists for (participant, question).
	ErrDuplicateAnswer = errors.New("answer already recorded for question")
	// ErrAlreadyCompleted indicates a write arrived after the participant finished.
	ErrAlreadyCompleted = errors.New("participant already completed")
)
