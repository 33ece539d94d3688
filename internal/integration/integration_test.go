package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"rurallearn-quiz/internal/app"
	"rurallearn-quiz/internal/domain"
	pgloader "rurallearn-quiz/internal/infra/postgres"
	pgmigrations "rurallearn-quiz/internal/infra/postgres/migrations"
	infraredis "rurallearn-quiz/internal/infra/redis"
)

func TestQuizAttemptEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgloader.NewQuizLoader(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	quizRepo := infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute)
	progress := infraredis.NewProgressStore(redisClient, 5*time.Minute)
	service := app.NewSessionService(quizRepo, progress)

	// Fresh attempt: answer one of three, navigate.
	session, resumed, err := service.Open(ctx, "thermo-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if resumed {
		t.Fatalf("expected fresh attempt")
	}
	if session.TimeRemaining() != 30*60 {
		t.Fatalf("expected full allowance, got %d", session.TimeRemaining())
	}
	service.SelectAnswer(ctx, session, 1, 1)
	service.GoToQuestion(ctx, session, 1)

	// Reconnect path: the attempt resumes verbatim from Redis.
	restored, resumed, err := service.Open(ctx, "thermo-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !resumed {
		t.Fatalf("expected resumed attempt")
	}
	if restored.AttemptID() != session.AttemptID() {
		t.Fatalf("attempt ID changed: %s vs %s", restored.AttemptID(), session.AttemptID())
	}
	if restored.CurrentIndex() != 1 || restored.AnsweredCount() != 1 {
		t.Fatalf("restored state mismatch: index=%d answered=%d", restored.CurrentIndex(), restored.AnsweredCount())
	}

	// Submit: one of three correct.
	result, first := service.Submit(ctx, restored)
	if !first {
		t.Fatalf("expected first submit")
	}
	if result.Score != 33 || result.CorrectCount != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	stored, found, err := progress.Load(ctx, "thermo-1")
	if err != nil || !found {
		t.Fatalf("load after submit: found=%v err=%v", found, err)
	}
	if !stored.QuizSubmitted || stored.Score != 33 {
		t.Fatalf("snapshot mismatch: %+v", stored)
	}

	// Reset wipes the attempt.
	if _, err := service.Reset(ctx, restored); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, found, _ := progress.Load(ctx, "thermo-1"); found {
		t.Fatalf("expected snapshot cleared after reset")
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuiz(t *testing.T, ctx context.Context, dsn string, quiz domain.Quiz) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (? , ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.QuizID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		QuizID:       "thermo-1",
		QuizName:     "Thermodynamics Quiz",
		TimeAllowed:  30,
		PassingScore: 70,
		Questions: []domain.Question{
			{ID: 1, Text: "Which law conserves energy?", Options: []string{"Zeroth", "First", "Second"}, Correct: 1},
			{ID: 2, Text: "Entropy at absolute zero is", Options: []string{"Zero", "Infinite", "Negative"}, Correct: 0},
			{ID: 3, Text: "Heat flows from", Options: []string{"Cold to hot", "Hot to cold", "Neither"}, Correct: 1},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
