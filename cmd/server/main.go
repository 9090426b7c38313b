package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ignatzorin/escrow-engine/internal/app"
	"github.com/ignatzorin/escrow-engine/internal/config"
	"github.com/ignatzorin/escrow-engine/internal/goroutine"
	httpHandlers "github.com/ignatzorin/escrow-engine/internal/http/handlers"
	httpRouter "github.com/ignatzorin/escrow-engine/internal/http/router"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}

	engine, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("main: не удалось собрать движок")
	}
	defer engine.Close()

	hub := ws.NewHub()
	engine.Jobs.SetNotifier(ws.NewJobNotifier(hub))

	var background sync.WaitGroup
	goroutine.SafeGoGroup(ctx, &background, hub.Run)
	goroutine.SafeGoGroup(ctx, &background, func(ctx context.Context) {
		if err := engine.Worker.Run(ctx); err != nil {
			logger.Log.WithError(err).Error("main: воркер сверки завершился с ошибкой")
		}
	})

	var pinger httpHandlers.Pinger
	if engine.DB != nil {
		pinger = engine.DB
	}

	router := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Jobs:     httpHandlers.NewJobHandler(engine.Jobs),
		Payments: httpHandlers.NewPaymentHandler(engine.Jobs, engine.Worker),
		Disputes: httpHandlers.NewDisputeHandler(engine.Disputes),
		Admin:    httpHandlers.NewAdminHandler(engine.Jobs, engine.Ledger),
		Health:   httpHandlers.NewHealthHandler(pinger, cfg.StorageDriver),
		WS:       httpHandlers.NewWSHandler(hub, engine.Tokens, cfg.AllowedOrigins),
	}, engine.Tokens)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	goroutine.SafeGo(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).Warn("main: ошибка остановки http сервера")
		}
	})

	logger.Log.WithField("port", cfg.HTTPPort).Info("main: HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Log.WithError(err).Fatal("main: сервер завершился с ошибкой")
	}

	// Дожидаемся воркера, чтобы он не оборвал запись посреди единицы работы.
	background.Wait()
	logger.Log.Info("main: остановлен")
}
