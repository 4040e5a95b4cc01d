package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quadai/quad/internal/config"
	"github.com/quadai/quad/internal/event"
	"github.com/quadai/quad/internal/handler"
	"github.com/quadai/quad/internal/logging"
	"github.com/quadai/quad/internal/middleware"
	"github.com/quadai/quad/internal/service/analytics"
	chatsvc "github.com/quadai/quad/internal/service/chat"
	"github.com/quadai/quad/internal/service/engine"
	"github.com/quadai/quad/internal/service/knowledge"
	sessionsvc "github.com/quadai/quad/internal/service/session"
	"github.com/quadai/quad/internal/service/tool"
	usersvc "github.com/quadai/quad/internal/service/user"
	"github.com/quadai/quad/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		logging.Warn().Err(err).Msg("no .env file, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	})

	store := storage.New(cfg.Storage.DataDir)
	bus := event.NewBus()
	defer bus.Close()

	knowledgeProvider := knowledge.New(cfg.Knowledge.File)
	if cfg.Knowledge.Watch {
		if err := knowledgeProvider.Watch(ctx); err != nil {
			logging.Warn().Err(err).Msg("knowledge hot reload unavailable")
		}
	}

	users := usersvc.New(store)
	if err := users.WatchSessions(ctx, bus); err != nil {
		logging.Warn().Err(err).Msg("account session lists will not track session events")
	}

	sessions := sessionsvc.New(store, bus)

	recorder := analytics.New(store)
	if err := recorder.Watch(ctx, bus); err != nil {
		logging.Warn().Err(err).Msg("interaction analytics disabled")
	}

	coordinator := buildCoordinator(ctx, cfg, sessions, knowledgeProvider, bus)

	router := handler.NewRouter(handler.Services{
		Sessions:    sessions,
		Users:       users,
		Coordinator: coordinator,
		RateLimiter: middleware.NewRateLimiter(cfg.Chat.RatePerMinute, cfg.Chat.RateBurst),
	})

	startServer(ctx, cfg.Server, router)
}

// buildCoordinator assembles the engine-facing half of the service. A nil
// return means no engine is reachable; the chat endpoints refuse but the
// rest of the API still works.
func buildCoordinator(ctx context.Context, cfg *config.Config, sessions *sessionsvc.Service, knowledgeProvider *knowledge.Provider, bus *event.Bus) *chatsvc.Coordinator {
	if !cfg.Engine.Enabled() {
		logging.Info().Msg("engine not configured, chat endpoints disabled")
		return nil
	}

	chatModel, err := cfg.Engine.NewChatModel(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to initialize chat model, chat endpoints disabled")
		return nil
	}

	var registry *tool.Registry
	if cfg.Tool.SearchEnabled {
		registry = tool.NewRegistry(tool.NewSearch(tool.SearchConfig{
			BaseURL:    cfg.Tool.SearchBaseURL,
			Timeout:    cfg.Tool.Timeout,
			MaxRetries: cfg.Tool.MaxRetries,
		}))
	} else {
		registry = tool.NewRegistry()
	}

	client, err := engine.NewClient(ctx, chatModel, registry, engine.NewPromptBuilder(knowledgeProvider), engine.Config{
		ChunkTimeout: cfg.Engine.ChunkTimeout,
		AskTimeout:   cfg.Engine.AskTimeout,
	})
	if err != nil {
		logging.Warn().Err(err).Msg("failed to initialize engine client, chat endpoints disabled")
		return nil
	}

	logging.Info().
		Str("provider", cfg.Engine.Provider).
		Str("model", cfg.Engine.Model).
		Bool("search_tool", cfg.Tool.SearchEnabled).
		Msg("engine initialized")

	return chatsvc.NewCoordinator(sessions, client, chatsvc.NewAssembler(cfg.Chat.ContextTurns), bus)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logging.Info().Str("addr", serverCfg.Addr).Msg("quad backend listening")
	if err := runServer(ctx, srv); err != nil {
		logging.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
