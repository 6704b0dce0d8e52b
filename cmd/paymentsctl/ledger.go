package main

import (
	"fmt"

	"paycore/internal/repository"

	"github.com/spf13/cobra"
)

var ledgerFix bool

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Wallet ledger maintenance",
	}
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Compare cached wallet balances with their ledger entries",
		Long: `Compare every wallet's cached balance with the sum of its ledger entries.

Entries are the source of truth. With --fix, drifting balances are rebuilt
from the entries.

Examples:
  paymentsctl ledger verify
  paymentsctl ledger verify --fix`,
		RunE: runLedgerVerify,
	}
	verify.Flags().BoolVar(&ledgerFix, "fix", false, "rebuild drifting balances from entries")
	cmd.AddCommand(verify)
	return cmd
}

func runLedgerVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	wallets := repository.NewWalletRepository(e.db)
	drift, err := wallets.VerifyAll(ctx)
	if err != nil {
		return err
	}
	if len(drift) == 0 {
		fmt.Println("all balances match their entries")
		return nil
	}
	for _, d := range drift {
		fmt.Printf("wallet %d: cached=%d entries=%d\n", d.WalletID, d.Cached, d.Replayed)
	}
	if !ledgerFix {
		return fmt.Errorf("%d wallets drifted; rerun with --fix to rebuild", len(drift))
	}
	for _, d := range drift {
		balance, err := wallets.Rebuild(ctx, d.WalletID)
		if err != nil {
			return fmt.Errorf("rebuild wallet %d: %w", d.WalletID, err)
		}
		fmt.Printf("wallet %d rebuilt to %d\n", d.WalletID, balance)
	}
	return nil
}
