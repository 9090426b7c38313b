package commands

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-engine/internal/config"
	"github.com/ignatzorin/escrow-engine/internal/db"
)

// connect открывает базу без сборки движка: миграции нужны до того, как схема готова.
func connect(ctx context.Context, envFile string) (*sqlx.DB, *config.Config, error) {
	cfg, err := config.LoadFrom(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	opts := db.DefaultPoolOptions()
	opts.MaxOpenConns = 2
	conn, err := db.NewPostgres(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		return nil, nil, err
	}
	return conn, cfg, nil
}
