package domain

// Quiz is the document shape produced by the quiz generator and stored as
// JSONB: one record per quiz, questions inline.
type Quiz struct {
	QuizID       string     `json:"quizId"`
	SubjectID    string     `json:"subjectId,omitempty"`
	QuizName     string     `json:"quizName"`
	Description  string     `json:"description,omitempty"`
	TimeAllowed  int        `json:"timeAllowed"` // minutes
	PassingScore int        `json:"passingScore"`
	Questions    []Question `json:"questions"`
	CreatedAt    string     `json:"createdAt,omitempty"`
}

// Question is a multiple-choice question. Correct is an index into Options.
type Question struct {
	ID         int      `json:"id"`
	Text       string   `json:"text"`
	Options    []string `json:"options"`
	Correct    int      `json:"correct"`
	Difficulty string   `json:"difficulty,omitempty"`
}

// Snapshot is the persisted progress record for one quiz attempt, one per
// quiz ID. Field names match what the web client historically wrote to
// local storage, so snapshots stay readable across both worlds.
type Snapshot struct {
	AttemptID       string        `json:"attemptId,omitempty"`
	CurrentQuestion int           `json:"currentQuestion"`
	SelectedAnswers map[int]int   `json:"selectedAnswers"` // question ID -> option index
	TimeRemaining   int           `json:"timeRemaining"`   // seconds
	StartTime       int64         `json:"startTime"`       // epoch ms
	QuizSubmitted   bool          `json:"quizSubmitted"`
	Score           int           `json:"score"`
	QuestionTimes   map[int]int64 `json:"questionTimes"` // question index -> ms
	LastSaved       int64         `json:"lastSaved"`     // epoch ms
}

// Result summarizes a submitted attempt.
type Result struct {
	Score              int   `json:"score"`
	CorrectCount       int   `json:"correctCount"`
	TotalQuestions     int   `json:"totalQuestions"`
	Passed             bool  `json:"passed"`
	TotalTimeSpent     int64 `json:"totalTimeSpent"`     // ms
	AvgTimePerQuestion int64 `json:"avgTimePerQuestion"` // ms
}

// QuestionStatus is the navigator pill state for a question.
type QuestionStatus string

const (
	StatusAnswered   QuestionStatus = "answered"
	StatusCurrent    QuestionStatus = "current"
	StatusUnanswered QuestionStatus = "unanswered"
)
