package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rurallearn-quiz/internal/app"
	"rurallearn-quiz/internal/config"
	"rurallearn-quiz/internal/domain"
	"rurallearn-quiz/internal/infra/memory"
	pgloader "rurallearn-quiz/internal/infra/postgres"
	redisinfra "rurallearn-quiz/internal/infra/redis"
	"rurallearn-quiz/internal/logger"
	"rurallearn-quiz/internal/monitoring"
	transport "rurallearn-quiz/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, cfg.Log.File)
	monitoring.Init()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pgloader.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	progressTTL := config.TTLDuration(cfg.Progress.TTL, 24*time.Hour)
	var progress app.ProgressStore
	if redisClient != nil {
		progress = redisinfra.NewProgressStore(redisClient, progressTTL)
	} else {
		progress = memory.NewProgressStore()
	}

	service := app.NewSessionService(quizRepo, progress)
	wsHandler := transport.NewWSHandler(service)
	quizHandler := transport.NewQuizHandler(quizRepo)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/api/quiz", quizHandler)
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.Handle("/metrics", monitoring.Handler())

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Log.Info("starting quiz session service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Log.Info("shutting down server...")
	case <-ctx.Done():
		logger.Log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes seeds a demo quiz when no Postgres is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"thermo-1": {
			QuizID:       "thermo-1",
			QuizName:     "Thermodynamics Quiz",
			TimeAllowed:  30,
			PassingScore: 70,
			Questions: []domain.Question{
				{
					ID:         1,
					Text:       "Which law of thermodynamics states that energy cannot be created or destroyed?",
					Options:    []string{"Zeroth law", "First law", "Second law", "Third law"},
					Correct:    1,
					Difficulty: "easy",
				},
				{
					ID:         2,
					Text:       "Entropy of a perfect crystal at absolute zero is",
					Options:    []string{"Zero", "Infinite", "Negative", "Unity"},
					Correct:    0,
					Difficulty: "medium",
				},
			},
		},
	}
}
