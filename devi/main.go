package main

import (
	"context"
	"devi/devi/agents/configs"
	"devi/devi/agents/core"
	"devi/devi/config"
	"devi/devi/controllers"
	"devi/devi/middlewares"
	"devi/devi/routes"
	"devi/devi/services/horoscope"
	"devi/devi/services/llm"
	"devi/devi/sources/psql"
	"devi/devi/sources/psql/dao"
	"devi/devi/sources/storage"
	"devi/devi/utils/logging"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()
	logging.InitLoggerAt(cfg.LogDir)
	defer logging.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := llm.New(cfg.LLMProvider, cfg.OllamaURL, cfg.GroqAPIKey, cfg.OpenAIAPIKey)
	if err != nil {
		logging.ErrorLogger.Error("llm client error", zap.Error(err))
		os.Exit(1)
	}
	persona := configs.MustLoad(cfg.PersonaPath)
	checks := map[string]controllers.Pinger{}

	// Postgres keeps the server-side history. Without it the model endpoint still answers.
	var (
		chats   controllers.ChatStore
		history core.HistorySource
	)
	if cfg.DatabaseEnabled() {
		db, err := psql.NewDatabase(ctx, cfg)
		if err != nil {
			logging.ErrorLogger.Error("database connection error", zap.Error(err))
			os.Exit(1)
		}
		defer db.Close()
		chatDAO := dao.NewChatMessageDAO(db.DB)
		chats, history = chatDAO, chatDAO
		checks["database"] = db
	} else {
		logging.AppLogger.Warn("DB_HOST/DB_NAME not set, server-side history disabled")
	}

	var (
		archive controllers.Archiver
		reader  controllers.ExchangeReader
	)
	if cfg.MinIOEnabled() {
		minioClient, err := storage.NewMinIOClient(ctx, cfg)
		if err != nil {
			logging.ErrorLogger.Error("minio connection error", zap.Error(err))
			os.Exit(1)
		}
		archive, reader = minioClient, minioClient
		checks["storage"] = minioClient
	}

	var stars core.HoroscopeSource
	if cfg.HoroscopeURL != "" {
		stars = horoscope.NewFetcher(cfg.HoroscopeURL, cfg.HoroscopeSelector)
	}

	agent := core.NewDeviAgent(client, cfg.LLMModel, persona, history, stars, cfg.HoroscopeSign)
	modelCtrl := controllers.NewModelController(agent, chats, archive)
	chatCtrl := controllers.NewChatController(chats, reader)
	authCtrl := controllers.NewAuthController(cfg)
	healthCtrl := controllers.NewHealthController(checks)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.RequestLogger)
	r.Use(middlewares.Metrics)
	r.Use(middleware.Recoverer)

	r.Mount("/health", routes.HealthRoutes(healthCtrl))
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/auth", routes.AuthRoutes(authCtrl))
	r.Mount("/chat", routes.ChatRoutes(chatCtrl, cfg))
	r.Mount("/model", routes.ModelRoutes(modelCtrl))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logging.AppLogger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorLogger.Error("server listen error", zap.Error(err))
		}
	}()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.ErrorLogger.Error("server shutdown error", zap.Error(err))
	}
	logging.AppLogger.Info("server shutdown complete")
}
