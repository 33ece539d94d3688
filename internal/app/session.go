package app

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"rurallearn-quiz/internal/domain"
)

// Session is the state machine for one quiz attempt. It owns the answer
// ledger, the countdown value, and the per-question stopwatch; all methods
// are safe for concurrent use so a pending tick and a manual submit can
// never both fire.
type Session struct {
	mu   sync.Mutex
	quiz domain.Quiz
	now  func() time.Time

	attemptID     string
	current       int
	answers       map[int]int // question ID -> selected option index
	timeRemaining int         // seconds
	startTime     time.Time
	questionStart time.Time
	questionTimes map[int]int64 // question index -> ms spent
	submitted     bool
	score         int
	totalTime     time.Duration
}

// NewSession creates a fresh attempt: first question, full time allowance,
// empty ledger.
func NewSession(quiz domain.Quiz) *Session {
	return NewSessionWithClock(quiz, time.Now)
}

// NewSessionWithClock allows deterministic timestamps in tests.
func NewSessionWithClock(quiz domain.Quiz, now func() time.Time) *Session {
	start := now()
	return &Session{
		quiz:          quiz,
		now:           now,
		attemptID:     uuid.New().String(),
		current:       0,
		answers:       make(map[int]int),
		timeRemaining: quiz.TimeAllowed * 60,
		startTime:     start,
		questionStart: start,
		questionTimes: make(map[int]int64),
	}
}

// RestoreSession resumes an attempt from a persisted snapshot. Missing or
// malformed fields fall back per-field to the fresh-session default; a
// negative time remaining means the snapshot predates this quiz's shape and
// the full allowance is used. An already-submitted snapshot resumes directly
// in the submitted state.
func RestoreSession(quiz domain.Quiz, snap domain.Snapshot, now func() time.Time) *Session {
	s := NewSessionWithClock(quiz, now)
	if snap.AttemptID != "" {
		s.attemptID = snap.AttemptID
	}
	if snap.CurrentQuestion >= 0 && snap.CurrentQuestion < len(quiz.Questions) {
		s.current = snap.CurrentQuestion
	}
	if snap.SelectedAnswers != nil {
		for id, idx := range snap.SelectedAnswers {
			s.answers[id] = idx
		}
	}
	if snap.TimeRemaining >= 0 {
		s.timeRemaining = snap.TimeRemaining
	}
	if snap.StartTime > 0 {
		s.startTime = time.UnixMilli(snap.StartTime)
	}
	if snap.QuestionTimes != nil {
		for idx, ms := range snap.QuestionTimes {
			s.questionTimes[idx] = ms
		}
	}
	if snap.QuizSubmitted {
		s.submitted = true
		s.score = snap.Score
	}
	return s
}

// AttemptID identifies this attempt across saves.
func (s *Session) AttemptID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptID
}

// Quiz returns the immutable quiz document for this attempt.
func (s *Session) Quiz() domain.Quiz {
	return s.quiz
}

// SelectAnswer records an option choice for a question. The index is stored
// verbatim; range validation is the transport's job. No-op once submitted.
func (s *Session) SelectAnswer(questionID, optionIndex int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return false
	}
	s.answers[questionID] = optionIndex
	return true
}

// GoToQuestion moves to the given question index. Out-of-range indexes are
// ignored. Time spent on the question being left is recorded (overwriting
// any earlier visit) and the stopwatch restarts on arrival.
func (s *Session) GoToQuestion(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted || index < 0 || index >= len(s.quiz.Questions) {
		return false
	}
	s.recordQuestionTimeLocked()
	s.current = index
	s.questionStart = s.now()
	return true
}

// Next advances one question; no-op at the last question.
func (s *Session) Next() bool {
	s.mu.Lock()
	index := s.current + 1
	s.mu.Unlock()
	return s.GoToQuestion(index)
}

// Previous steps back one question; no-op at the first question.
func (s *Session) Previous() bool {
	s.mu.Lock()
	index := s.current - 1
	s.mu.Unlock()
	return s.GoToQuestion(index)
}

// Tick decrements the countdown by one second. When it reaches zero the
// session submits itself. Returns the remaining seconds and whether this
// tick caused the submission. No-op once submitted.
func (s *Session) Tick() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return s.timeRemaining, false
	}
	s.timeRemaining--
	if s.timeRemaining <= 0 {
		s.timeRemaining = 0
		s.submitLocked()
		return 0, true
	}
	return s.timeRemaining, false
}

// Submit finalizes the attempt: records the current question's time, scores
// the ledger, and freezes the session. Idempotent; the second return
// reports whether this call was the one that submitted.
func (s *Session) Submit() (domain.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return s.resultLocked(), false
	}
	s.submitLocked()
	return s.resultLocked(), true
}

func (s *Session) submitLocked() {
	s.recordQuestionTimeLocked()
	s.score = s.calculateScoreLocked()
	s.totalTime = s.now().Sub(s.startTime)
	s.submitted = true
}

func (s *Session) recordQuestionTimeLocked() {
	if s.questionStart.IsZero() {
		return
	}
	s.questionTimes[s.current] = s.now().Sub(s.questionStart).Milliseconds()
}

func (s *Session) calculateScoreLocked() int {
	total := len(s.quiz.Questions)
	if total == 0 {
		return 0
	}
	correct := 0
	for _, q := range s.quiz.Questions {
		if idx, ok := s.answers[q.ID]; ok && idx == q.Correct {
			correct++
		}
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}

// Result summarizes the attempt. Only meaningful once submitted.
func (s *Session) Result() domain.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultLocked()
}

func (s *Session) resultLocked() domain.Result {
	total := len(s.quiz.Questions)
	correct := 0
	for _, q := range s.quiz.Questions {
		if idx, ok := s.answers[q.ID]; ok && idx == q.Correct {
			correct++
		}
	}
	var avg int64
	if total > 0 {
		avg = s.totalTime.Milliseconds() / int64(total)
	}
	return domain.Result{
		Score:              s.score,
		CorrectCount:       correct,
		TotalQuestions:     total,
		Passed:             s.score >= s.quiz.PassingScore,
		TotalTimeSpent:     s.totalTime.Milliseconds(),
		AvgTimePerQuestion: avg,
	}
}

// Snapshot captures the full persistable state of the attempt.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	answers := make(map[int]int, len(s.answers))
	for id, idx := range s.answers {
		answers[id] = idx
	}
	times := make(map[int]int64, len(s.questionTimes))
	for idx, ms := range s.questionTimes {
		times[idx] = ms
	}
	return domain.Snapshot{
		AttemptID:       s.attemptID,
		CurrentQuestion: s.current,
		SelectedAnswers: answers,
		TimeRemaining:   s.timeRemaining,
		StartTime:       s.startTime.UnixMilli(),
		QuizSubmitted:   s.submitted,
		Score:           s.score,
		QuestionTimes:   times,
		LastSaved:       s.now().UnixMilli(),
	}
}

// CurrentIndex returns the 0-based index of the question on screen.
func (s *Session) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// TimeRemaining returns the countdown value in seconds.
func (s *Session) TimeRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeRemaining
}

// Submitted reports whether the attempt has been finalized.
func (s *Session) Submitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

// Score returns the computed score; valid only once submitted.
func (s *Session) Score() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score
}

// Progress is the percentage of the quiz reached, counting the current
// question as reached.
func (s *Session) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := len(s.quiz.Questions)
	if total == 0 {
		return 0
	}
	return float64(s.current+1) / float64(total) * 100
}

// AnsweredCount is the number of questions with a ledger entry.
func (s *Session) AnsweredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}

// QuestionStatus classifies a question for the navigator: answered beats
// current, current beats unanswered.
func (s *Session) QuestionStatus(index int) domain.QuestionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.quiz.Questions) {
		return domain.StatusUnanswered
	}
	if _, ok := s.answers[s.quiz.Questions[index].ID]; ok {
		return domain.StatusAnswered
	}
	if index == s.current {
		return domain.StatusCurrent
	}
	return domain.StatusUnanswered
}

// FormattedTimeRemaining renders the countdown as M:SS.
func (s *Session) FormattedTimeRemaining() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FormatSeconds(s.timeRemaining)
}

// FormatSeconds renders a second count as M:SS, seconds zero-padded.
func FormatSeconds(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
