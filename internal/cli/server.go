package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gameroom-service/internal/app"
	"gameroom-service/internal/config"
	"gameroom-service/internal/domain"
	"gameroom-service/internal/infra/memory"
	pgstore "gameroom-service/internal/infra/postgres"
	redisinfra "gameroom-service/internal/infra/redis"
	"gameroom-service/internal/logging"
	transport "gameroom-service/internal/transport/http"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the game room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// analyticsStore persists finished games and serves them back over REST.
type analyticsStore interface {
	app.AnalyticsSink
	transport.AnalyticsReader
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
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
		defer redisClient.Close()
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.BankLoader = memory.NewStaticBankLoader(sampleBanks())
	var analytics analyticsStore = memory.NewAnalyticsStore()
	if pool != nil {
		loader = pgstore.NewBankLoader(pool)
		analytics = pgstore.NewAnalyticsStore(pool)
	}

	bankTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var banks app.QuestionBankRepository
	if redisClient != nil {
		banks = redisinfra.NewQuestionRepository(redisClient, loader, bankTTL)
	} else {
		banks = memory.NewQuestionRepository(loader, bankTTL)
	}

	hub := transport.NewHub(log.Named("hub"))
	go hub.Run()
	defer hub.Stop()

	publisher := app.FanOut{hub}
	opts := []app.Option{
		app.WithAnalyticsSink(analytics),
		app.WithLifecycle(hub),
		app.WithTimings(timingsFrom(cfg)),
		app.WithLogger(log.Named("rooms")),
	}
	if redisClient != nil {
		events := redisinfra.NewEventPublisher(redisClient, 1024, log.Named("events"))
		defer events.Close()
		publisher = append(publisher, events)

		instance, _ := os.Hostname()
		if instance == "" {
			instance = uuid.NewString()
		}
		registry := redisinfra.NewRoomRegistry(redisClient, instance,
			config.TTLDuration(cfg.Redis.TTL, 30*time.Second), log.Named("registry"))
		defer registry.Close()
		opts = append(opts, app.WithLifecycle(registry))
	}
	opts = append(opts, app.WithPublisher(publisher))

	rooms := app.NewRoomManager(app.NewBankEvaluator(banks), opts...)

	wsCfg := transport.DefaultHandlerConfig()
	wsCfg.ReconnectGrace = config.TTLDuration(cfg.Rooms.ReconnectGrace, wsCfg.ReconnectGrace)
	wsCfg.AllowedOrigins = cfg.Server.AllowedOrigins
	if cfg.RateLimit.PerSecond > 0 {
		wsCfg.RatePerSecond = cfg.RateLimit.PerSecond
	}
	if cfg.RateLimit.Burst > 0 {
		wsCfg.RateBurst = cfg.RateLimit.Burst
	}

	router := transport.NewRouter(
		transport.NewRoomAPI(rooms, analytics, log.Named("api")),
		transport.NewWSHandler(rooms, hub, wsCfg, log.Named("ws")),
		cfg.Server.AllowedOrigins,
	)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting game room service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func timingsFrom(cfg config.Config) app.Timings {
	def := app.DefaultTimings()
	return app.Timings{
		Countdown:      config.TTLDuration(cfg.Rooms.Countdown, def.Countdown),
		ResultsPause:   config.TTLDuration(cfg.Rooms.ResultsPause, def.ResultsPause),
		CloseAfter:     config.TTLDuration(cfg.Rooms.CloseAfter, def.CloseAfter),
		AnalyticsLimit: def.AnalyticsLimit,
	}
}

// sampleBanks serves rooms when no Postgres is configured.
func sampleBanks() map[string]domain.QuestionBank {
	return map[string]domain.QuestionBank{
		"math": {
			ID: "math",
			Questions: []domain.Question{
				question("m1", "What is 2 + 2?", "o2", "3", "4", "5"),
				question("m2", "What is 7 × 6?", "o3", "36", "40", "42"),
				question("m3", "What is 81 ÷ 9?", "o1", "9", "8", "7"),
				question("m4", "What is 15 − 8?", "o2", "6", "7", "8"),
				question("m5", "What is 3²?", "o3", "6", "8", "9"),
			},
		},
		"science": {
			ID: "science",
			Questions: []domain.Question{
				question("s1", "Which planet is closest to the sun?", "o1", "Mercury", "Venus", "Mars"),
				question("s2", "What gas do plants absorb?", "o2", "Oxygen", "Carbon dioxide", "Nitrogen"),
				question("s3", "What is H2O?", "o3", "Salt", "Hydrogen", "Water"),
				question("s4", "How many legs does an insect have?", "o2", "4", "6", "8"),
				question("s5", "What force pulls objects to the ground?", "o1", "Gravity", "Magnetism", "Friction"),
			},
		},
	}
}

func question(id, prompt, correct string, texts ...string) domain.Question {
	q := domain.Question{ID: id, Prompt: prompt}
	for i, text := range texts {
		optID := "o" + string(rune('1'+i))
		q.Options = append(q.Options, domain.Option{ID: optID, Text: text, Correct: optID == correct})
	}
	return q
}
