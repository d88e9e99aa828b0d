// Command insightflow runs the analytics workflow service: an HTTP API that
// turns natural-language questions into SQL, executes it against the bound
// data source, and streams progress, charts and insights back to the caller.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/insightflow/insightflow/cache"
	"github.com/insightflow/insightflow/convo"
	"github.com/insightflow/insightflow/graph"
	"github.com/insightflow/insightflow/graph/emit"
	"github.com/insightflow/insightflow/graph/store"
	"github.com/insightflow/insightflow/httpapi"
	"github.com/insightflow/insightflow/model"
	"github.com/insightflow/insightflow/model/anthropic"
	"github.com/insightflow/insightflow/model/google"
	"github.com/insightflow/insightflow/model/openai"
	"github.com/insightflow/insightflow/source"
	"github.com/insightflow/insightflow/sqlexec"
	"github.com/insightflow/insightflow/sqlexec/engine"
	"github.com/insightflow/insightflow/workflow"
)

func main() {
	// .env files never override real environment variables.
	_ = godotenv.Load()

	logger := newLogger()
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	modelClient, provider, err := newModelClient()
	if err != nil {
		return err
	}
	logger.Info("model provider selected", "provider", provider)

	redisClient := newRedisClient()
	if redisClient != nil {
		logger.Info("redis connected", "addr", redisClient.Options().Addr)
	}

	exec := newExecutor(logger, redisClient)
	data := newDataService(logger)
	nodes := workflow.NewNodes(modelClient, data, exec, logger)

	st, err := newStateStore(redisClient)
	if err != nil {
		return err
	}
	history, err := newConversationStore()
	if err != nil {
		return err
	}

	metrics := graph.NewMetrics(prometheus.DefaultRegisterer)
	emitters := []emit.Emitter{emit.NewLog(logger)}
	var tracerShutdown func(context.Context) error
	if envBool("OTEL_ENABLED") {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(resource.NewSchemaless(
				attribute.String("service.name", "insightflow"),
			)),
		)
		otel.SetTracerProvider(tp)
		tracerShutdown = tp.Shutdown
		emitters = append(emitters, emit.NewOTel(otel.Tracer("insightflow")))
	}

	orch, err := workflow.New(nodes, st, history, workflow.Options{
		AIEngine: provider,
		Metrics:  metrics,
		Logger:   logger,
		Emitters: emitters,
	})
	if err != nil {
		return err
	}

	cfg := httpapi.Config{
		CORSOrigins: splitEnv("CORS_ORIGINS"),
		Logger:      logger,
		Ready: func() error {
			if redisClient == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return redisClient.Ping(ctx).Err()
		},
	}
	srv := httpapi.NewServer(orch, cfg)

	port := envOr("PORT", "8080")
	server := &http.Server{
		Addr:        ":" + port,
		Handler:     srv.Router(cfg),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays zero so SSE streams are not cut off.
		IdleTimeout: 60 * time.Second,
	}

	// Cancelable base context so in-flight SSE streams see shutdown;
	// http.Server.Shutdown alone does not cancel request contexts.
	serverCtx, serverCancel := context.WithCancel(context.Background())
	server.BaseContext = func(net.Listener) context.Context { return serverCtx }

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	sig := <-shutdown
	logger.Info("shutting down", "signal", sig.String())
	serverCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	if tracerShutdown != nil {
		_ = tracerShutdown(ctx)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("server stopped")
	return nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// newModelClient selects the provider from AI_PROVIDER, falling back to
// whichever API key is present.
func newModelClient() (model.Client, string, error) {
	provider := strings.ToLower(envOr("AI_PROVIDER", ""))
	if provider == "" {
		switch {
		case os.Getenv("ANTHROPIC_API_KEY") != "":
			provider = "anthropic"
		case os.Getenv("OPENAI_API_KEY") != "":
			provider = "openai"
		case os.Getenv("GEMINI_API_KEY") != "":
			provider = "google"
		default:
			provider = "mock"
		}
	}

	switch provider {
	case "anthropic":
		return anthropic.New(os.Getenv("ANTHROPIC_API_KEY"), envOr("AI_MODEL", "")), provider, nil
	case "openai":
		return openai.New(os.Getenv("OPENAI_API_KEY"), envOr("AI_MODEL", "")), provider, nil
	case "google", "gemini":
		return google.New(os.Getenv("GEMINI_API_KEY"), envOr("AI_MODEL", "")), "google", nil
	case "mock":
		// Dev mode without credentials; every question gets a canned reply.
		return model.NewMock(`{"message": "no model provider configured"}`), provider, nil
	default:
		return nil, "", fmt.Errorf("unknown AI_PROVIDER %q", provider)
	}
}

func newRedisClient() *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
	})
}

func newExecutor(logger *slog.Logger, redisClient *redis.Client) *sqlexec.Executor {
	embedded := engine.NewEmbedded(logger)

	engines := []sqlexec.Engine{
		embedded,
		engine.NewDirectSQL(logger),
		engine.NewDataFrame(embedded, logger),
		engine.NewBigData(engine.BigDataConfig{
			Addr:     os.Getenv("CLICKHOUSE_ADDR"),
			Database: envOr("CLICKHOUSE_DATABASE", "default"),
			Username: envOr("CLICKHOUSE_USERNAME", "default"),
			Password: os.Getenv("CLICKHOUSE_PASSWORD"),
		}, logger),
		engine.NewAggregation(engine.AggregationConfig{
			URL:   os.Getenv("AGGREGATION_SERVICE_URL"),
			Token: os.Getenv("AGGREGATION_SERVICE_TOKEN"),
		}, logger),
	}

	var scoped *cache.Scoped
	if redisClient != nil {
		scoped = cache.NewScoped(redisClient, "insightflow:query")
	}

	return sqlexec.New(sqlexec.Config{
		LRUCapacity: envInt("QUERY_CACHE_CAPACITY", 256),
		LRUTTL:      5 * time.Minute,
		ScopedTTL:   30 * time.Minute,
		Logger:      logger,
	}, scoped, engines...)
}

func newDataService(logger *slog.Logger) source.Service {
	if url := os.Getenv("DATA_SERVICE_URL"); url != "" {
		return httpapi.NewDataClient(url, os.Getenv("DATA_SERVICE_TOKEN"))
	}
	logger.Warn("DATA_SERVICE_URL not set; only statically registered sources will resolve")
	return httpapi.NewStaticSources()
}

func newStateStore(redisClient *redis.Client) (store.Store[workflow.State], error) {
	switch envOr("STATE_STORE", "memory") {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("STATE_STORE=redis requires REDIS_ADDR")
		}
		return store.NewRedis[workflow.State](redisClient, "insightflow:run", 24*time.Hour), nil
	case "sqlite":
		return store.NewSQLite[workflow.State](envOr("STATE_SQLITE_PATH", "insightflow-state.db"))
	default:
		return store.NewMem[workflow.State](), nil
	}
}

func newConversationStore() (convo.Store, error) {
	if path := os.Getenv("CONVO_SQLITE_PATH"); path != "" {
		return convo.NewSQLite(path)
	}
	return convo.NewMem(), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func splitEnv(key string) []string {
	if v := os.Getenv(key); v != "" {
		return strings.Split(v, ",")
	}
	return nil
}
