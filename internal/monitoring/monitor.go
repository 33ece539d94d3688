package monitoring

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsOpened counts attempts by how they began: "fresh" or "resumed".
	SessionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_sessions_opened_total",
			Help: "Quiz sessions opened, by origin",
		},
		[]string{"origin"},
	)

	// Submissions counts finalized attempts by trigger: "manual" or "expired".
	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_submissions_total",
			Help: "Quiz submissions, by trigger",
		},
		[]string{"trigger"},
	)

	// PersistenceFailures counts swallowed progress-store errors.
	PersistenceFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_progress_persistence_failures_total",
			Help: "Progress snapshot writes or reads that failed",
		},
	)

	// QuizLoadFailures counts quiz fetches that ended in the empty state.
	QuizLoadFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_load_failures_total",
			Help: "Quiz document loads that failed or found nothing",
		},
	)
)

var registerOnce sync.Once

// Init registers the collectors. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(SessionsOpened)
		prometheus.MustRegister(Submissions)
		prometheus.MustRegister(PersistenceFailures)
		prometheus.MustRegister(QuizLoadFailures)
	})
}

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
