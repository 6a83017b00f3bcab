package domain

import "time"

// TimingPolicy controls how a quiz's time budget is applied.
type TimingPolicy string

const (
	// TimingPerQuestion applies the quiz-level budget to every question.
	TimingPerQuestion TimingPolicy = "per_question"
	// TimingTotal runs a single countdown across the whole quiz.
	TimingTotal TimingPolicy = "total"
	// TimingSpecificQuestion lets each question override the quiz budget.
	TimingSpecificQuestion TimingPolicy = "specific_question"
)

// CheatType tags the signal that triggered an integrity event.
type CheatType string

const (
	CheatTabSwitch      CheatType = "tab_switch"
	CheatCopy           CheatType = "copy"
	CheatPaste          CheatType = "paste"
	CheatRightClick     CheatType = "right_click"
	CheatFullscreenExit CheatType = "fullscreen_exit"
)

// Option represents a possible answer for a question.
type Option struct {
	ID         string `json:"id"`
	QuestionID string `json:"questionId"`
	Text       string `json:"text"`
	Correct    bool   `json:"correct"`
	OrderIndex int    `json:"orderIndex"`
}

// Question models an MCQ question with exactly one correct option.
// TimeLimitSeconds is a per-question override honored only under
// TimingSpecificQuestion; zero means "use the quiz default".
type Question struct {
	ID               string   `json:"id"`
	QuizID           string   `json:"quizId"`
	OrderIndex       int      `json:"orderIndex"`
	Prompt           string   `json:"prompt"`
	Points           int      `json:"points"` // defaults to 1 if zero
	TimeLimitSeconds int      `json:"timeLimitSeconds"`
	Options          []Option `json:"options"`
}

// CorrectOption returns the question's correct option.
func (q Question) CorrectOption() (Option, bool) {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt, true
		}
	}
	return Option{}, false
}

// HasOption reports whether the option belongs to this question.
func (q Question) HasOption(optionID string) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// Quiz is the assessment content plus its timing and proctoring settings.
// TimeLimitSeconds is the per-question budget under TimingPerQuestion and
// TimingSpecificQuestion, or the whole-quiz budget under TimingTotal.
// Zero means unlimited.
type Quiz struct {
	ID               string       `json:"id"`
	HostID           string       `json:"hostId"`
	Title            string       `json:"title"`
	TimingPolicy     TimingPolicy `json:"timingPolicy"`
	TimeLimitSeconds int          `json:"timeLimitSeconds"`
	ShuffleQuestions bool         `json:"shuffleQuestions"`
	ShowAnswers      bool         `json:"showAnswers"`
	AntiCheat        bool         `json:"antiCheat"`
	PassingScore     int          `json:"passingScore"`
	Questions        []Question   `json:"questions"`
}

// QuestionBudget resolves the countdown budget in seconds for the question at
// index idx. Zero means no countdown. Under TimingTotal the budget covers the
// whole quiz, so individual questions run without their own countdown.
func (q Quiz) QuestionBudget(idx int) int {
	switch q.TimingPolicy {
	case TimingTotal:
		return 0
	case TimingSpecificQuestion:
		if idx >= 0 && idx < len(q.Questions) && q.Questions[idx].TimeLimitSeconds > 0 {
			return q.Questions[idx].TimeLimitSeconds
		}
		return q.TimeLimitSeconds
	default:
		return q.TimeLimitSeconds
	}
}

// Session is one live run of a quiz, joined through a short code.
type Session struct {
	ID              string     `json:"id"`
	QuizID          string     `json:"quizId"`
	HostID          string     `json:"hostId"`
	Code            string     `json:"code"`
	IsActive        bool       `json:"isActive"`
	CurrentQuestion int        `json:"currentQuestion"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
}

// Participant is one learner inside a session.
type Participant struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"sessionId"`
	Name            string     `json:"name"`
	Score           int        `json:"score"`
	CheatAttempts   int        `json:"cheatAttempts"`
	CurrentQuestion int        `json:"currentQuestion"`
	Connected       bool       `json:"connected"`
	JoinedAt        time.Time  `json:"joinedAt"`
	LastSeen        time.Time  `json:"lastSeen"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// Completed reports whether the participant has finished the quiz.
func (p Participant) Completed() bool {
	return p.CompletedAt != nil
}

// Answer records one scored (or skipped) question for a participant.
// SelectedOptionID is nil for a synthetic no-answer produced by timer expiry.
// At most one Answer exists per (participant, question).
type Answer struct {
	ID               string    `json:"id"`
	ParticipantID    string    `json:"participantId"`
	QuestionID       string    `json:"questionId"`
	SelectedOptionID *string   `json:"selectedOptionId,omitempty"`
	IsCorrect        bool      `json:"isCorrect"`
	TimeSpentSeconds int       `json:"timeSpentSeconds"`
	CreatedAt        time.Time `json:"createdAt"`
}

// CheatEvent records one integrity signal. Never recorded after the
// participant's CompletedAt is set.
type CheatEvent struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participantId"`
	Type          CheatType `json:"type"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// MonitorRow is the proctor's derived view of one participant.
type MonitorRow struct {
	ParticipantID   string  `json:"participantId"`
	Name            string  `json:"name"`
	Connected       bool    `json:"connected"`
	Completed       bool    `json:"completed"`
	Score           int     `json:"score"`
	AnsweredCount   int     `json:"answeredCount"`
	CheatAttempts   int     `json:"cheatAttempts"`
	ProgressPercent int     `json:"progressPercent"`
	Anomaly         bool    `json:"anomaly"`
	MeanAnswerSecs  float64 `json:"meanAnswerSecs"`
	ElapsedSeconds  int     `json:"elapsedSeconds"`
}

// MonitorSnapshot is one aggregator poll result for a session.
type MonitorSnapshot struct {
	SessionID string       `json:"sessionId"`
	Code      string       `json:"code"`
	Elapsed   string       `json:"elapsed"`
	Rows      []MonitorRow `json:"rows"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
