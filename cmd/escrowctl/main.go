package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/ignatzorin/escrow-engine/cmd/escrowctl/commands"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "путь к env-файлу",
		Value: ".env",
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "escrowctl",
		Usage: "операторская утилита движка эскроу",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "миграции схемы",
				Commands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "применить новые миграции",
						Flags:  []cli.Flag{envFlag(), &cli.StringFlag{Name: "dir", Usage: "каталог миграций"}},
						Action: commands.MigrateUpAction,
					},
					{
						Name:   "status",
						Usage:  "показать статус миграций",
						Flags:  []cli.Flag{envFlag(), &cli.StringFlag{Name: "dir", Usage: "каталог миграций"}},
						Action: commands.MigrateStatusAction,
					},
				},
			},
			{
				Name:  "ledger",
				Usage: "журнал эскроу",
				Commands: []*cli.Command{
					{
						Name:  "audit",
						Usage: "сверить журнал с балансами (без исправлений)",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{Name: "job", Usage: "проверить один заказ"},
							&cli.BoolFlag{Name: "json", Usage: "вывод в JSON"},
						},
						Action: commands.LedgerAuditAction,
					},
				},
			},
			{
				Name:  "payments",
				Usage: "платёжные операции",
				Commands: []*cli.Command{
					{
						Name:   "sweep",
						Usage:  "один проход сверки незавершённых операций",
						Flags:  []cli.Flag{envFlag()},
						Action: commands.SweepAction,
					},
					{
						Name:  "retry",
						Usage: "повторить неуспешную выплату",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{Name: "tx", Usage: "ID неуспешной выплаты", Required: true},
							&cli.StringFlag{Name: "admin", Usage: "ID администратора", Required: true},
						},
						Action: commands.RetryDisbursementAction,
					},
				},
			},
			{
				Name:  "token",
				Usage: "access токены для отладки",
				Commands: []*cli.Command{
					{
						Name:  "issue",
						Usage: "выпустить токен",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{Name: "role", Usage: "PRO, MSME, STAFF или ADMIN", Required: true},
							&cli.StringFlag{Name: "user", Usage: "ID пользователя (по умолчанию новый)"},
							&cli.DurationFlag{Name: "ttl", Usage: "срок жизни токена"},
						},
						Action: commands.TokenIssueAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
