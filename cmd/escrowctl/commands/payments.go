package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
)

// SweepAction один раз прогоняет сверку незавершённых операций.
func SweepAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	n, err := appCtx.Engine.Worker.SweepOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "обработано операций: %d\n", n)
	return nil
}

// RetryDisbursementAction создаёт повторную выплату от имени администратора.
func RetryDisbursementAction(ctx context.Context, cmd *cli.Command) error {
	txID, err := uuid.Parse(cmd.String("tx"))
	if err != nil {
		return fmt.Errorf("неверный --tx: %w", err)
	}
	adminID, err := uuid.Parse(cmd.String("admin"))
	if err != nil {
		return fmt.Errorf("неверный --admin: %w", err)
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	actor := valueobject.Actor{ID: adminID, Role: valueobject.RoleAdmin}
	retry, err := appCtx.Engine.Jobs.RetryDisbursement(ctx, actor, txID)
	if err != nil {
		return err
	}
	// Сразу после фиксации выплату отправляет диспетчер, статус показывает, успел ли он.
	current, err := appCtx.Engine.Store.Repos().Transactions.GetByID(ctx, retry.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "выплата %s создана, статус %s\n", current.ID, current.Status)
	return nil
}
