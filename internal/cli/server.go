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

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	infrapg "live-quiz-service/internal/infra/postgres"
	infraredis "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/logger"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the assessment server",
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
	log := logger.New(cfg.Log.Level, cfg.Log.File)
	defer log.Sync()

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
	}

	var store app.Store
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = infrapg.NewStore(pool)
	} else {
		memStore := memory.NewStore()
		seedSampleQuiz(ctx, memStore, log)
		store = memStore
	}

	if redisClient != nil {
		sessionTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)
		store = infraredis.NewSessionIndex(store, redisClient, sessionTTL)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizzes app.QuizSource
	if redisClient != nil {
		quizzes = infraredis.NewQuizCache(redisClient, store, quizTTL)
	} else {
		quizzes = memory.NewQuizCache(store, quizTTL)
	}

	engineCfg := app.DefaultEngineConfig()
	engineCfg.TickInterval = config.TTLDuration(cfg.Engine.TickInterval, engineCfg.TickInterval)
	engineCfg.RevealDelay = config.TTLDuration(cfg.Engine.RevealDelay, engineCfg.RevealDelay)
	engineCfg.RevealDelayShowAnswers = config.TTLDuration(cfg.Engine.RevealDelayShowAnswers, engineCfg.RevealDelayShowAnswers)
	engineCfg.SessionPollEvery = config.TTLDuration(cfg.Engine.SessionPollEvery, engineCfg.SessionPollEvery)

	aggCfg := app.DefaultAggregatorConfig()
	aggCfg.PollInterval = config.TTLDuration(cfg.Monitor.PollInterval, aggCfg.PollInterval)
	aggCfg.ConnectivityWindow = config.TTLDuration(cfg.Monitor.ConnectivityWindow, aggCfg.ConnectivityWindow)
	if cfg.Monitor.AnomalyFastSecs > 0 {
		aggCfg.AnomalyFastSecs = cfg.Monitor.AnomalyFastSecs
	}
	if cfg.Monitor.AnomalySlowSecs > 0 {
		aggCfg.AnomalySlowSecs = cfg.Monitor.AnomalySlowSecs
	}

	controller := app.NewController(store, log)
	lobby := app.NewLobby(store, quizzes, log)
	aggregator := app.NewAggregator(store, controller, aggCfg, log)
	wsHandler := transport.NewWSHandler(store, lobby, controller, aggregator, engineCfg, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws/play", wsHandler.ServePlay)
	mux.HandleFunc("/ws/host", wsHandler.ServeHost)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// Websocket connections outlive any sane write timeout; rely on
		// read deadlines per connection instead.
	}

	go func() {
		log.Info("starting assessment service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", zap.Error(err))
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

// seedSampleQuiz keeps the no-database tier usable out of the box: one demo
// quiz a host can start a session against immediately.
func seedSampleQuiz(ctx context.Context, store app.Store, log *zap.Logger) {
	quiz := domain.Quiz{
		ID:               "quiz-demo",
		HostID:           "host-demo",
		Title:            "Quick arithmetic check",
		TimingPolicy:     domain.TimingPerQuestion,
		TimeLimitSeconds: 30,
		ShowAnswers:      true,
		AntiCheat:        true,
		Questions: []domain.Question{
			{
				ID:         "q1",
				OrderIndex: 0,
				Prompt:     "What is 2 + 2?",
				Points:     1,
				Options: []domain.Option{
					{ID: "q1-o1", Text: "3", OrderIndex: 0},
					{ID: "q1-o2", Text: "4", Correct: true, OrderIndex: 1},
					{ID: "q1-o3", Text: "5", OrderIndex: 2},
				},
			},
			{
				ID:         "q2",
				OrderIndex: 1,
				Prompt:     "What is 6 × 7?",
				Points:     1,
				Options: []domain.Option{
					{ID: "q2-o1", Text: "42", Correct: true, OrderIndex: 0},
					{ID: "q2-o2", Text: "48", OrderIndex: 1},
					{ID: "q2-o3", Text: "36", OrderIndex: 2},
				},
			},
		},
	}
	if err := store.CreateQuiz(ctx, &quiz); err != nil {
		log.Warn("seed quiz failed", zap.Error(err))
	}
}
