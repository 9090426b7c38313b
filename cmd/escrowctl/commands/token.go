package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/ignatzorin/escrow-engine/internal/config"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/service"
)

// TokenIssueAction выпускает access токен для отладки и интеграционных проверок.
func TokenIssueAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.LoadFrom(cmd.String("env"))
	if err != nil {
		return err
	}
	if cfg.Env == "production" {
		return cli.Exit("выпуск токенов в production запрещён", 1)
	}

	role, err := valueobject.ParseRole(cmd.String("role"))
	if err != nil {
		return err
	}
	userID := uuid.New()
	if raw := cmd.String("user"); raw != "" {
		if userID, err = uuid.Parse(raw); err != nil {
			return fmt.Errorf("неверный --user: %w", err)
		}
	}

	ttl := cfg.AccessTokenTTL
	if d := cmd.Duration("ttl"); d > 0 {
		ttl = d
	}
	token, exp, err := service.NewTokenManager(cfg.JWTSecret, ttl).GenerateAccess(userID, role)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "user_id: %s\nrole: %s\nexpires: %s\ntoken: %s\n",
		userID, role, exp.Format(time.RFC3339), token)
	return nil
}
