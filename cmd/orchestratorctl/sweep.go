package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kevin07696/payment-orchestrator/internal/app"
	"github.com/kevin07696/payment-orchestrator/internal/services/reconciliation"
)

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep [name]",
		Short: "Run one reconciliation sweep now",
		Long: fmt.Sprintf(`Run a reconciliation sweep in the foreground and print its result.
The sweep takes the same lease as the scheduled run, so it is skipped while one is in progress.

Sweeps: %s`, strings.Join(reconciliation.Sweeps(), ", ")),
		Args:      cobra.ExactArgs(1),
		ValidArgs: reconciliation.Sweeps(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !knownSweep(args[0]) {
				return fmt.Errorf("unknown sweep %q (want one of %s)", args[0], strings.Join(reconciliation.Sweeps(), ", "))
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.Sweeper.Run(cmd.Context(), args[0])
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				if err != nil {
					return err
				}
				if res.Failed > 0 {
					return fmt.Errorf("%d item(s) failed", res.Failed)
				}
				return nil
			})
		},
	}
	return cmd
}

func knownSweep(name string) bool {
	for _, s := range reconciliation.Sweeps() {
		if s == name {
			return true
		}
	}
	return false
}
