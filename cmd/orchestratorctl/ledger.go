package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kevin07696/payment-orchestrator/internal/app"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
)

var operations = []domain.OperationType{
	domain.OperationCreateIntent,
	domain.OperationConfirmIntent,
	domain.OperationCancelIntent,
	domain.OperationCreateRefund,
	domain.OperationWalletCreateOrder,
	domain.OperationWalletCaptureOrder,
	domain.OperationUpdateDispute,
	domain.OperationAttachPaymentMethod,
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and repair idempotency records",
	}
	cmd.AddCommand(ledgerErroredCmd())
	cmd.AddCommand(ledgerFailCmd())
	return cmd
}

func ledgerErroredCmd() *cobra.Command {
	var (
		since time.Duration
		limit int
	)
	cmd := &cobra.Command{
		Use:   "errored",
		Short: "List records waiting for the retry sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				records, err := a.Ledger.ListErrored(cmd.Context(), time.Now().Add(-since), limit)
				if err != nil {
					return err
				}
				out := make([]map[string]interface{}, 0, len(records))
				for _, rec := range records {
					out = append(out, map[string]interface{}{
						"key":        rec.Key,
						"operation":  rec.Operation,
						"entity_id":  rec.EntityID,
						"error":      rec.ErrorDetail,
						"updated_at": rec.UpdatedAt,
					})
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "only records updated within this window")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum records")
	return cmd
}

func ledgerFailCmd() *cobra.Command {
	var detail string
	cmd := &cobra.Command{
		Use:   "fail [key] [operation]",
		Short: "Mark a stuck PENDING record as ERROR so the retry sweep picks it up",
		Long: `Mark a PENDING idempotency record as ERROR. Use it when a process died between
recording the attempt and recording the outcome; the retry sweep then replays it.

Operations: ` + strings.Join(operationNames(), ", "),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := parseOperation(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				changed, err := a.Ledger.MarkFailed(cmd.Context(), args[0], op, detail)
				if err != nil {
					return err
				}
				if !changed {
					return fmt.Errorf("no PENDING record for key %q and operation %s", args[0], op)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "marked %s/%s as ERROR\n", op, args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&detail, "detail", "marked failed by operator", "error detail stored on the record")
	return cmd
}

func parseOperation(s string) (domain.OperationType, error) {
	want := strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
	for _, op := range operations {
		if string(op) == want {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q (want one of %s)", s, strings.Join(operationNames(), ", "))
}

func operationNames() []string {
	names := make([]string, len(operations))
	for i, op := range operations {
		names[i] = string(op)
	}
	return names
}
