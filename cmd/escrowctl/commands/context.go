package commands

import (
	"context"
	"fmt"

	"github.com/ignatzorin/escrow-engine/internal/app"
	"github.com/ignatzorin/escrow-engine/internal/config"
	"github.com/ignatzorin/escrow-engine/internal/logger"
)

// AppContext: общая инициализация для команд, работающих с базой.
type AppContext struct {
	Config *config.Config
	Engine *app.Engine
}

// NewAppContext загружает конфигурацию и собирает движок над PostgreSQL.
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.LoadFrom(envFile)
	if err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	if cfg.StorageDriver != config.StorageDriverPostgres {
		return nil, fmt.Errorf("escrowctl работает только с STORAGE_DRIVER=postgres")
	}
	logger.Init("info")
	logger.SetTextFormatter()

	engine, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &AppContext{Config: cfg, Engine: engine}, nil
}

func (a *AppContext) Close() {
	a.Engine.Close()
}
