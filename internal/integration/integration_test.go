package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"gameroom-service/internal/app"
	"gameroom-service/internal/domain"
	pgstore "gameroom-service/internal/infra/postgres"
	"gameroom-service/internal/infra/postgres/migrations"
	infraredis "gameroom-service/internal/infra/redis"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestGameEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedBank(t, ctx, pgURL, sampleBank())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	banks := infraredis.NewQuestionRepository(redisClient, pgstore.NewBankLoader(pool), 5*time.Minute)
	store := pgstore.NewAnalyticsStore(pool)
	registry := infraredis.NewRoomRegistry(redisClient, "it-instance", time.Minute, nil)
	defer registry.Close()
	publisher := infraredis.NewEventPublisher(redisClient, 256, nil)
	defer publisher.Close()

	sub := redisClient.Subscribe(ctx, infraredis.EventsChannel("room-1"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	clock := clockwork.NewFakeClock()
	rooms := app.NewRoomManager(app.NewBankEvaluator(banks),
		app.WithClock(clock),
		app.WithPublisher(publisher),
		app.WithAnalyticsSink(store),
		app.WithLifecycle(registry),
	)

	if _, err := rooms.Create(domain.GameRoomConfig{
		ID:              "room-1",
		Name:            "Integration",
		GameType:        domain.GameTypeQuizBattle,
		Subject:         "math",
		TotalQuestions:  5,
		TimePerQuestion: 30,
		Settings:        domain.RoomSettings{ShowLeaderboard: true, EnableChat: true},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, p := range []string{"alice", "bob"} {
		if _, err := rooms.AddPlayer("room-1", domain.Player{ID: p, UserID: "user-" + p, Name: p}); err != nil {
			t.Fatalf("add %s: %v", p, err)
		}
	}

	waitFor(t, "room registered", func() bool {
		live, err := registry.LiveRooms(ctx)
		return err == nil && len(live) == 1 && live[0] == "room-1"
	})

	if err := rooms.StartGame("room-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 5; i++ {
		advance(t, clock, time.Second)
	}

	answers := map[int][2]string{0: {"o2", "o1"}, 1: {"o3", "o3"}, 2: {"o1", "o2"}, 3: {"o2", "o2"}, 4: {"o3", "o1"}}
	for i := 0; i < 5; i++ {
		waitFor(t, fmt.Sprintf("question %d open", i), func() bool {
			room := rooms.GetRoom("room-1")
			return room != nil && room.CurrentQuestion != nil && room.CurrentQuestion.Index == i && !room.CurrentQuestion.Closed
		})
		pair := answers[i]
		if res := rooms.SubmitAnswer(ctx, "room-1", "alice", "", pair[0], 5*time.Second); res == nil {
			t.Fatalf("alice answer %d rejected", i)
		}
		if res := rooms.SubmitAnswer(ctx, "room-1", "bob", "", pair[1], 10*time.Second); res == nil {
			t.Fatalf("bob answer %d rejected", i)
		}
		advance(t, clock, 3*time.Second)
	}

	room := rooms.GetRoom("room-1")
	if room == nil || room.Status != domain.RoomFinished {
		t.Fatalf("expected finished room, got %+v", room)
	}
	if room.Leaderboard[0].PlayerID != "alice" {
		t.Fatalf("expected alice leading, got %+v", room.Leaderboard)
	}

	var saved domain.GameAnalytics
	waitFor(t, "analytics persisted", func() bool {
		saved, err = store.GetAnalytics(ctx, "room-1")
		return err == nil
	})
	if saved.WinnerID != "alice" || saved.QuestionsAsked != 5 || len(saved.Players) != 2 {
		t.Fatalf("unexpected analytics %+v", saved)
	}

	// The first events of the room reached the Redis channel in order.
	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var env domain.InboundMessage
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.RoomID != "room-1" {
		t.Fatalf("unexpected event %s (%v)", msg.Payload, err)
	}

	// Closing the finished room removes it from the registry.
	advance(t, clock, 5*time.Minute)
	waitFor(t, "room unregistered", func() bool {
		live, err := registry.LiveRooms(ctx)
		return err == nil && len(live) == 0
	})
}

func advance(t *testing.T, clock *clockwork.FakeClock, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for room timer: %v", err)
	}
	clock.Advance(d)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startContainer runs req and returns the host:port of its exposed port.
func startContainer(t *testing.T, ctx context.Context, req tc.ContainerRequest, port string) (string, func()) {
	t.Helper()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start %s: %v", req.Image, err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("%s host: %v", req.Image, err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("%s port: %v", req.Image, err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port()), func() { _ = container.Terminate(ctx) }
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	addr, cleanup := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "game", "POSTGRES_PASSWORD": "gamepass", "POSTGRES_DB": "gamedb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")
	return fmt.Sprintf("postgres://game:gamepass@%s/gamedb?sslmode=disable", addr), cleanup
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	addr, cleanup := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}, "6379/tcp")
	return "redis://" + addr, cleanup
}

func seedBank(t *testing.T, ctx context.Context, dsn string, bank domain.QuestionBank) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(bank)
	if err != nil {
		t.Fatalf("marshal bank: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO question_banks (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, bank.ID, string(data)); err != nil {
		t.Fatalf("insert bank: %v", err)
	}
}

func sampleBank() domain.QuestionBank {
	q := func(id, correct string) domain.Question {
		return domain.Question{
			ID:     id,
			Prompt: "Question " + id,
			Options: []domain.Option{
				{ID: "o1", Text: "one", Correct: correct == "o1"},
				{ID: "o2", Text: "two", Correct: correct == "o2"},
				{ID: "o3", Text: "three", Correct: correct == "o3"},
			},
		}
	}
	return domain.QuestionBank{
		ID:        "math",
		Questions: []domain.Question{q("q1", "o2"), q("q2", "o3"), q("q3", "o1"), q("q4", "o2"), q("q5", "o3")},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
