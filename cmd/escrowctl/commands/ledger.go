package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

// LedgerAuditAction сверяет журнал эскроу с балансами. Расхождения только выводятся.
func LedgerAuditAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	out := cmd.Root().Writer
	if raw := cmd.String("job"); raw != "" {
		jobID, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("неверный --job: %w", err)
		}
		drift, err := appCtx.Engine.Ledger.VerifyDrift(ctx, jobID)
		if drift == nil && err == nil {
			fmt.Fprintf(out, "заказ %s: журнал сходится с балансом\n", jobID)
			return nil
		}
		if drift == nil {
			return err
		}
		fmt.Fprintf(out, "заказ %s: held=%d, сумма проводок=%d\n", jobID, drift.Held, drift.EntriesSum)
		return cli.Exit("обнаружено расхождение", 2)
	}

	drifts, err := appCtx.Engine.Ledger.AuditAll(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(drifts); err != nil {
			return err
		}
	} else if len(drifts) > 0 {
		table := tablewriter.NewWriter(out)
		table.Header("Заказ", "Held", "Сумма проводок")
		for _, d := range drifts {
			if err := table.Append(d.JobID.String(), fmt.Sprintf("%d", d.Held), fmt.Sprintf("%d", d.EntriesSum)); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	if len(drifts) > 0 {
		return cli.Exit(fmt.Sprintf("обнаружено расхождений: %d", len(drifts)), 2)
	}
	fmt.Fprintln(out, "расхождений нет")
	return nil
}
