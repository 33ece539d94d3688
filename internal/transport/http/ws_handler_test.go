package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rurallearn-quiz/internal/app"
	"rurallearn-quiz/internal/domain"
	"rurallearn-quiz/internal/infra/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.ProgressStore) {
	t.Helper()
	progress := memory.NewProgressStore()
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuizzes()), time.Minute)
	service := app.NewSessionService(quizRepo, progress)
	wsHandler := NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, progress
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMissingQuizIDRejectedBeforeUpgrade(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUnknownQuizYieldsEmptyState(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "?quizId=quiz-nope")

	typ, payload := readUntil(conn, t, "error")
	if typ != "error" {
		t.Fatalf("expected error frame, got %s", typ)
	}
	if payload["message"] != "no quiz available" {
		t.Fatalf("expected empty-state message, got %v", payload["message"])
	}
}

func TestPlayerFlow(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "?quizId=quiz-1")

	// Initial state frame for a fresh attempt.
	_, state := readUntil(conn, t, "state")
	if state["submitted"] != false {
		t.Fatalf("expected fresh attempt, got %v", state)
	}
	if state["resumed"] != false {
		t.Fatalf("expected resumed=false, got %v", state)
	}

	// Answer the question.
	writeFrame(conn, t, map[string]any{
		"type":    "select",
		"payload": map[string]any{"questionId": 1, "optionIndex": 1},
	})
	_, state = readUntil(conn, t, "state")
	if state["answeredCount"] != float64(1) {
		t.Fatalf("expected answeredCount 1, got %v", state["answeredCount"])
	}

	// Out-of-range option index is refused at the boundary.
	writeFrame(conn, t, map[string]any{
		"type":    "select",
		"payload": map[string]any{"questionId": 1, "optionIndex": 99},
	})
	_, errPayload := readUntil(conn, t, "error")
	if errPayload["message"] == "" {
		t.Fatalf("expected error message")
	}

	// Submit; the single question was answered correctly.
	writeFrame(conn, t, map[string]any{"type": "submit"})
	_, result := readUntil(conn, t, "submitted")
	if result["score"] != float64(100) {
		t.Fatalf("expected score 100, got %v", result["score"])
	}
	if result["passed"] != true {
		t.Fatalf("expected passed, got %v", result)
	}
}

func TestResumeAfterReconnect(t *testing.T) {
	server, _ := newTestServer(t)

	conn := dial(t, server, "?quizId=quiz-1")
	readUntil(conn, t, "state")
	writeFrame(conn, t, map[string]any{
		"type":    "select",
		"payload": map[string]any{"questionId": 1, "optionIndex": 0},
	})
	readUntil(conn, t, "state")
	conn.Close()

	// A new connection resumes the stored attempt.
	conn2 := dial(t, server, "?quizId=quiz-1")
	_, state := readUntil(conn2, t, "state")
	if state["resumed"] != true {
		t.Fatalf("expected resumed attempt, got %v", state)
	}
	if state["answeredCount"] != float64(1) {
		t.Fatalf("expected answer restored, got %v", state["answeredCount"])
	}
}

func TestResetStartsFreshAttempt(t *testing.T) {
	server, progress := newTestServer(t)
	conn := dial(t, server, "?quizId=quiz-1")

	readUntil(conn, t, "state")
	writeFrame(conn, t, map[string]any{
		"type":    "select",
		"payload": map[string]any{"questionId": 1, "optionIndex": 0},
	})
	readUntil(conn, t, "state")

	writeFrame(conn, t, map[string]any{"type": "reset"})
	_, state := readUntil(conn, t, "state")
	if state["answeredCount"] != float64(0) {
		t.Fatalf("expected empty ledger after reset, got %v", state["answeredCount"])
	}

	// The stored snapshot is gone until the fresh attempt mutates.
	if _, found, _ := progress.Load(context.Background(), "quiz-1"); found {
		t.Fatalf("expected snapshot cleared after reset")
	}
}

// orderedStore records the interleaving of snapshot saves and clears.
type orderedStore struct {
	inner *memory.ProgressStore

	mu     sync.Mutex
	events []storeEvent
}

type storeEvent struct {
	kind    string
	attempt string
}

func (s *orderedStore) Save(ctx context.Context, quizID string, snap domain.Snapshot) error {
	s.mu.Lock()
	s.events = append(s.events, storeEvent{kind: "save", attempt: snap.AttemptID})
	s.mu.Unlock()
	return s.inner.Save(ctx, quizID, snap)
}

func (s *orderedStore) Load(ctx context.Context, quizID string) (domain.Snapshot, bool, error) {
	return s.inner.Load(ctx, quizID)
}

func (s *orderedStore) Clear(ctx context.Context, quizID string) error {
	s.mu.Lock()
	s.events = append(s.events, storeEvent{kind: "clear"})
	s.mu.Unlock()
	return s.inner.Clear(ctx, quizID)
}

// A reset must fully stop the old attempt's countdown before clearing the
// stored snapshot; otherwise a stale tick can re-persist the retired
// attempt after the clear that wiped it.
func TestResetNeverResurrectsRetiredAttempt(t *testing.T) {
	store := &orderedStore{inner: memory.NewProgressStore()}
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuizzes()), time.Minute)
	service := app.NewSessionService(quizRepo, store)
	wsHandler := NewWSHandler(service)
	wsHandler.tickInterval = time.Millisecond

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	conn := dial(t, server, "?quizId=quiz-1")
	_, state := readUntil(conn, t, "state")
	attempts := []string{state["attemptId"].(string)}

	for i := 0; i < 50; i++ {
		writeFrame(conn, t, map[string]any{"type": "reset"})
		_, state := readUntil(conn, t, "state")
		attempts = append(attempts, state["attemptId"].(string))
	}
	conn.Close()

	// The k-th clear retires the k-th attempt; no later save may carry a
	// retired attempt's ID.
	store.mu.Lock()
	defer store.mu.Unlock()
	retired := make(map[string]bool)
	clears := 0
	for _, ev := range store.events {
		switch ev.kind {
		case "clear":
			retired[attempts[clears]] = true
			clears++
		case "save":
			if retired[ev.attempt] {
				t.Fatalf("retired attempt %s persisted after its clear", ev.attempt)
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, t *testing.T, frame map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// readUntil reads frames until one of the wanted type arrives, skipping
// interleaved tick and state pushes.
func readUntil(conn *websocket.Conn, t *testing.T, want string) (string, map[string]any) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json waiting for %q: %v", want, err)
		}
		if msg.Type == want {
			return msg.Type, msg.Payload
		}
	}
}

func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			QuizID:       "quiz-1",
			QuizName:     "Thermodynamics Quiz",
			TimeAllowed:  30,
			PassingScore: 70,
			Questions: []domain.Question{
				{
					ID:      1,
					Text:    "What is 2 + 2?",
					Options: []string{"3", "4", "5"},
					Correct: 1,
				},
			},
		},
	}
}
