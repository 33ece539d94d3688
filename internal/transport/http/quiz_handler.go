package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"rurallearn-quiz/internal/app"
	"rurallearn-quiz/internal/domain"
	"rurallearn-quiz/internal/logger"
)

// QuizHandler serves quiz documents over plain HTTP for clients that render
// the quiz without a live session (GET /api/quiz?quizId=...).
type QuizHandler struct {
	quizzes app.QuizRepository
}

func NewQuizHandler(quizzes app.QuizRepository) *QuizHandler {
	return &QuizHandler{quizzes: quizzes}
}

func (h *QuizHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	quizID := r.URL.Query().Get("quizId")
	if quizID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quizId is required"})
		return
	}

	quiz, err := h.quizzes.GetQuiz(r.Context(), quizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Quiz not found"})
		return
	}
	if err != nil {
		logger.Log.Warn("quiz fetch failed", zap.String("quizId", quizID), zap.Error(err))
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Quiz not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]domain.Quiz{"quiz": sanitizeQuiz(quiz)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
