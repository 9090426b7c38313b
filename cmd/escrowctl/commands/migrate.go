package commands

import (
	"context"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/ignatzorin/escrow-engine/internal/config"
	"github.com/ignatzorin/escrow-engine/internal/db"
)

// MigrateUpAction применяет новые миграции.
func MigrateUpAction(ctx context.Context, cmd *cli.Command) error {
	conn, cfg, err := connect(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer conn.Close()

	applied, err := db.RunMigrations(ctx, conn, migrationsPath(cmd, cfg))
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.Root().Writer, "новых миграций нет")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintf(cmd.Root().Writer, "применена %s\n", name)
	}
	return nil
}

// MigrateStatusAction показывает, какие миграции применены.
func MigrateStatusAction(ctx context.Context, cmd *cli.Command) error {
	conn, cfg, err := connect(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer conn.Close()

	migrations, err := db.MigrationStatus(ctx, conn, migrationsPath(cmd, cfg))
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(cmd.Root().Writer)
	table.Header("Миграция", "Применена")
	for _, m := range migrations {
		at := "pending"
		if m.AppliedAt != nil {
			at = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		if err := table.Append(m.Name, at); err != nil {
			return err
		}
	}
	return table.Render()
}

func migrationsPath(cmd *cli.Command, cfg *config.Config) string {
	if dir := cmd.String("dir"); dir != "" {
		return dir
	}
	return cfg.MigrationsPath
}

