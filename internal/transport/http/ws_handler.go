package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rurallearn-quiz/internal/app"
	"rurallearn-quiz/internal/domain"
	"rurallearn-quiz/internal/logger"
)

// WSHandler drives one quiz attempt per connection: the socket is the
// session's single logical thread of control, the server ticks the
// countdown and pushes state after every mutation.
type WSHandler struct {
	service      *app.SessionService
	upgrader     websocket.Upgrader
	tickInterval time.Duration
}

func NewWSHandler(service *app.SessionService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		tickInterval: time.Second,
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type selectPayload struct {
	QuestionID  int `json:"questionId"`
	OptionIndex int `json:"optionIndex"`
}

type gotoPayload struct {
	Index int `json:"index"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type tickPayload struct {
	TimeRemaining int    `json:"timeRemaining"`
	Formatted     string `json:"formatted"`
}

type statePayload struct {
	Quiz                   domain.Quiz             `json:"quiz"`
	AttemptID              string                  `json:"attemptId"`
	Resumed                bool                    `json:"resumed"`
	CurrentQuestion        int                     `json:"currentQuestion"`
	SelectedAnswers        map[int]int             `json:"selectedAnswers"`
	TimeRemaining          int                     `json:"timeRemaining"`
	FormattedTimeRemaining string                  `json:"formattedTimeRemaining"`
	Progress               float64                 `json:"progress"`
	AnsweredCount          int                     `json:"answeredCount"`
	QuestionStatuses       []domain.QuestionStatus `json:"questionStatuses"`
	Submitted              bool                    `json:"submitted"`
	Result                 *domain.Result          `json:"result,omitempty"`
}

// ServeWS upgrades the request and runs the player protocol: inbound
// select/goto/next/prev/submit/reset frames, outbound state/tick/submitted/
// error frames.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	session, resumed, err := h.service.Open(ctx, quizID)
	if err != nil {
		// Empty state: the page shows "no quiz available", never an error page.
		logger.Log.Info("quiz unavailable", zap.String("quizId", quizID), zap.Error(err))
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "no quiz available"}})
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				logger.Log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	push := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-closeSignals:
			return false
		}
	}

	push(stateMessage(session, resumed))

	var countdown *app.Countdown
	startCountdown := func(sess *app.Session) *app.Countdown {
		return app.StartCountdown(h.tickInterval, func() bool {
			remaining, expired := h.service.Tick(ctx, sess)
			if expired {
				push(outboundMessage[any]{Type: "submitted", Payload: sess.Result()})
				push(stateMessage(sess, false))
				return false
			}
			push(outboundMessage[any]{Type: "tick", Payload: tickPayload{
				TimeRemaining: remaining,
				Formatted:     app.FormatSeconds(remaining),
			}})
			return true
		})
	}
	stopCountdown := func() {
		if countdown != nil {
			countdown.Stop()
			countdown = nil
		}
	}

	if !session.Submitted() {
		countdown = startCountdown(session)
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "select":
			var payload selectPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid select payload"}})
				continue
			}
			if err := validateSelection(session.Quiz(), payload); err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			h.service.SelectAnswer(ctx, session, payload.QuestionID, payload.OptionIndex)
			push(stateMessage(session, false))
		case "goto":
			var payload gotoPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid goto payload"}})
				continue
			}
			h.service.GoToQuestion(ctx, session, payload.Index)
			push(stateMessage(session, false))
		case "next":
			h.service.Next(ctx, session)
			push(stateMessage(session, false))
		case "prev":
			h.service.Previous(ctx, session)
			push(stateMessage(session, false))
		case "submit":
			result, first := h.service.Submit(ctx, session)
			if first {
				stopCountdown()
			}
			push(outboundMessage[any]{Type: "submitted", Payload: result})
			push(stateMessage(session, false))
		case "reset":
			// The old attempt's countdown must be fully stopped before the
			// snapshot is cleared, or a stale tick re-persists the retired
			// attempt.
			stopCountdown()
			fresh, err := h.service.Reset(ctx, session)
			if err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "reset failed"}})
				if !session.Submitted() {
					countdown = startCountdown(session)
				}
				continue
			}
			session = fresh
			countdown = startCountdown(session)
			push(stateMessage(session, false))
		default:
			push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	// Unblock any pending push before waiting for the tick loop.
	close(closeSignals)
	stopCountdown()
	close(send)
	<-writerDone
}

func stateMessage(session *app.Session, resumed bool) outboundMessage[any] {
	snap := session.Snapshot()
	quiz := session.Quiz()

	statuses := make([]domain.QuestionStatus, len(quiz.Questions))
	for i := range quiz.Questions {
		statuses[i] = session.QuestionStatus(i)
	}

	payload := statePayload{
		Quiz:                   sanitizeQuiz(quiz),
		AttemptID:              snap.AttemptID,
		Resumed:                resumed,
		CurrentQuestion:        snap.CurrentQuestion,
		SelectedAnswers:        snap.SelectedAnswers,
		TimeRemaining:          snap.TimeRemaining,
		FormattedTimeRemaining: app.FormatSeconds(snap.TimeRemaining),
		Progress:               session.Progress(),
		AnsweredCount:          session.AnsweredCount(),
		QuestionStatuses:       statuses,
		Submitted:              snap.QuizSubmitted,
	}
	if snap.QuizSubmitted {
		result := session.Result()
		payload.Result = &result
	}
	return outboundMessage[any]{Type: "state", Payload: payload}
}

// sanitizeQuiz strips correct-answer indices before they cross the wire;
// scoring happens server-side.
func sanitizeQuiz(quiz domain.Quiz) domain.Quiz {
	questions := make([]domain.Question, len(quiz.Questions))
	copy(questions, quiz.Questions)
	for i := range questions {
		questions[i].Correct = -1
	}
	quiz.Questions = questions
	return quiz
}

// validateSelection refuses garbage from the wire; the session machine
// itself stores whatever index it is handed.
func validateSelection(quiz domain.Quiz, payload selectPayload) error {
	for _, q := range quiz.Questions {
		if q.ID == payload.QuestionID {
			if payload.OptionIndex < 0 || payload.OptionIndex >= len(q.Options) {
				return domain.ErrOptionOutOfRange
			}
			return nil
		}
	}
	return domain.ErrQuestionNotFound
}
