package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"rurallearn-quiz/internal/domain"
	"rurallearn-quiz/internal/logger"
	"rurallearn-quiz/internal/monitoring"
)

// ProgressStore persists attempt snapshots keyed by quiz ID. Writes are
// best-effort: the service logs failures and keeps the in-memory session.
type ProgressStore interface {
	Save(ctx context.Context, quizID string, snap domain.Snapshot) error
	Load(ctx context.Context, quizID string) (domain.Snapshot, bool, error)
	Clear(ctx context.Context, quizID string) error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// SessionService contains the quiz attempt use cases: open or resume an
// attempt, apply player actions, and persist a snapshot after every
// mutation.
type SessionService struct {
	quizzes  QuizRepository
	progress ProgressStore
	clock    func() time.Time
}

func NewSessionService(quizzes QuizRepository, progress ProgressStore) *SessionService {
	return &SessionService{quizzes: quizzes, progress: progress, clock: time.Now}
}

// NewSessionServiceWithClock is test-only for deterministic timestamps.
func NewSessionServiceWithClock(quizzes QuizRepository, progress ProgressStore, now func() time.Time) *SessionService {
	return &SessionService{quizzes: quizzes, progress: progress, clock: now}
}

// Open loads the quiz and either resumes the stored attempt or starts a
// fresh one. The bool reports whether a snapshot was resumed. Any load
// failure surfaces as an error the transport renders as the empty state.
func (s *SessionService) Open(ctx context.Context, quizID string) (*Session, bool, error) {
	if quizID == "" {
		return nil, false, domain.ErrNoQuizID
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		monitoring.QuizLoadFailures.Inc()
		return nil, false, err
	}

	snap, found, err := s.progress.Load(ctx, quizID)
	if err != nil {
		// A broken snapshot read degrades to a fresh attempt.
		monitoring.PersistenceFailures.Inc()
		logger.Log.Warn("failed to load progress, starting fresh",
			zap.String("quizId", quizID), zap.Error(err))
		found = false
	}

	var session *Session
	if found {
		session = RestoreSession(quiz, snap, s.clock)
		monitoring.SessionsOpened.WithLabelValues("resumed").Inc()
	} else {
		session = NewSessionWithClock(quiz, s.clock)
		monitoring.SessionsOpened.WithLabelValues("fresh").Inc()
	}
	s.persist(ctx, session)
	return session, found, nil
}

// SelectAnswer records an answer and persists.
func (s *SessionService) SelectAnswer(ctx context.Context, session *Session, questionID, optionIndex int) bool {
	if !session.SelectAnswer(questionID, optionIndex) {
		return false
	}
	s.persist(ctx, session)
	return true
}

// GoToQuestion navigates and persists. Out-of-range indexes are no-ops.
func (s *SessionService) GoToQuestion(ctx context.Context, session *Session, index int) bool {
	if !session.GoToQuestion(index) {
		return false
	}
	s.persist(ctx, session)
	return true
}

// Next advances one question and persists.
func (s *SessionService) Next(ctx context.Context, session *Session) bool {
	if !session.Next() {
		return false
	}
	s.persist(ctx, session)
	return true
}

// Previous steps back one question and persists.
func (s *SessionService) Previous(ctx context.Context, session *Session) bool {
	if !session.Previous() {
		return false
	}
	s.persist(ctx, session)
	return true
}

// Tick advances the countdown by one second and persists. The bool reports
// whether this tick expired the timer and submitted the attempt.
func (s *SessionService) Tick(ctx context.Context, session *Session) (int, bool) {
	remaining, expired := session.Tick()
	if !expired && session.Submitted() {
		// Stale tick on a finished attempt: nothing changed, nothing to save.
		return remaining, false
	}
	if expired {
		monitoring.Submissions.WithLabelValues("expired").Inc()
	}
	s.persist(ctx, session)
	return remaining, expired
}

// Submit finalizes the attempt and persists. Idempotent.
func (s *SessionService) Submit(ctx context.Context, session *Session) (domain.Result, bool) {
	result, first := session.Submit()
	if first {
		monitoring.Submissions.WithLabelValues("manual").Inc()
		s.persist(ctx, session)
	}
	return result, first
}

// Reset deletes the stored snapshot and hands back a fresh attempt for the
// same quiz. The fresh attempt is not persisted until its first mutation,
// so a load right after a reset finds nothing.
func (s *SessionService) Reset(ctx context.Context, session *Session) (*Session, error) {
	quiz := session.Quiz()
	if err := s.progress.Clear(ctx, quiz.QuizID); err != nil {
		return nil, err
	}
	return NewSessionWithClock(quiz, s.clock), nil
}

// persist writes a snapshot, logging and swallowing failures so the attempt
// carries on in memory.
func (s *SessionService) persist(ctx context.Context, session *Session) {
	quizID := session.Quiz().QuizID
	if quizID == "" {
		return
	}
	if err := s.progress.Save(ctx, quizID, session.Snapshot()); err != nil {
		monitoring.PersistenceFailures.Inc()
		logger.Log.Warn("failed to save progress",
			zap.String("quizId", quizID), zap.Error(err))
	}
}
