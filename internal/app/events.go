package app

import "live-quiz-service/internal/domain"

// EventType enumerates what a learner engine can push to its transport.
type EventType string

const (
	// EventQuestion presents a new question unit.
	EventQuestion EventType = "question"
	// EventTick carries the remaining seconds for the running countdown.
	EventTick EventType = "tick"
	// EventAnswerResult reports the outcome of a submission or a timer expiry.
	EventAnswerResult EventType = "answerResult"
	// EventCheatAck acknowledges a recorded integrity event and the forced advance.
	EventCheatAck EventType = "cheatAck"
	// EventSessionEnded tells the learner the proctor's session is gone.
	EventSessionEnded EventType = "sessionEnded"
	// EventCompleted is terminal: the participant has finished the quiz.
	EventCompleted EventType = "completed"
)

// OptionView is an option as shown to learners: no correctness flag.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionView is the learner-facing projection of one question unit.
type QuestionView struct {
	Index         int          `json:"index"`
	Total         int          `json:"total"`
	Prompt        string       `json:"prompt"`
	Points        int          `json:"points"`
	BudgetSeconds int          `json:"budgetSeconds"`
	Options       []OptionView `json:"options"`
}

// AnswerResult summarizes one consumed question for the learner.
type AnswerResult struct {
	QuestionID       string `json:"questionId"`
	Correct          bool   `json:"correct"`
	TimedOut         bool   `json:"timedOut"`
	CorrectOptionID  string `json:"correctOptionId,omitempty"` // only when the quiz reveals answers
	TimeSpentSeconds int    `json:"timeSpentSeconds"`
	Score            int    `json:"score"`
}

// Completion is the payload of the terminal completed event.
type Completion struct {
	Score          int  `json:"score"`
	TotalQuestions int  `json:"totalQuestions"`
	Passed         bool `json:"passed"`
}

// Event is one message from a learner engine to its transport.
type Event struct {
	Type             EventType        `json:"type"`
	Question         *QuestionView    `json:"question,omitempty"`
	RemainingSeconds int              `json:"remainingSeconds,omitempty"`
	Result           *AnswerResult    `json:"result,omitempty"`
	CheatType        domain.CheatType `json:"cheatType,omitempty"`
	CheatAttempts    int              `json:"cheatAttempts,omitempty"`
	Completion       *Completion      `json:"completion,omitempty"`
}
