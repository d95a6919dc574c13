package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/goodtune/accesstime/internal/access"
	"github.com/goodtune/accesstime/internal/config"
	"github.com/goodtune/accesstime/internal/storage"
	"github.com/goodtune/accesstime/internal/token"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the built-in token ledger",
	Long: `Inspect and fund balances in the store-backed token ledger. Balances are
kept per asset; the asset is the one recorded at initialization.`,
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint HOLDER AMOUNT",
	Short: "Credit AMOUNT of the instance token to HOLDER",
	Args:  cobra.ExactArgs(2),
	RunE:  runTokenMint,
}

var tokenBalanceCmd = &cobra.Command{
	Use:   "balance HOLDER",
	Short: "Show HOLDER's balance of the instance token",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenBalance,
}

func init() {
	tokenCmd.AddCommand(tokenMintCmd, tokenBalanceCmd)
	rootCmd.AddCommand(tokenCmd)
}

// withLedger runs fn against the ledger of the instance token.
func withLedger(ctx context.Context, write bool, fn func(l *token.StoreLedger) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	deps, err := openEngine(cfg, quietLogger(), false)
	if err != nil {
		return err
	}
	defer deps.Close()

	asset, err := deps.engine.GetToken(ctx)
	if err != nil {
		if errors.Is(err, access.ErrNotInitialized) {
			return fmt.Errorf("instance is not initialized; run apply init first")
		}
		return err
	}

	run := deps.store.View
	if write {
		run = deps.store.Update
	}
	return run(ctx, func(tx storage.Tx) error {
		return fn(token.NewStoreLedger(tx.Balances(), asset))
	})
}

func runTokenMint(cmd *cobra.Command, args []string) error {
	holder := args[0]
	if err := access.ValidateIdentity(holder); err != nil {
		return fmt.Errorf("invalid holder: %w", err)
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount: %s", args[1])
	}

	var balance int64
	err = withLedger(cmd.Context(), true, func(l *token.StoreLedger) error {
		var err error
		balance, err = l.Mint(cmd.Context(), holder, amount)
		return err
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s balance: %d\n", holder, balance)
	return nil
}

func runTokenBalance(cmd *cobra.Command, args []string) error {
	var balance int64
	err := withLedger(cmd.Context(), false, func(l *token.StoreLedger) error {
		var err error
		balance, err = l.Balance(cmd.Context(), args[0])
		return err
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s balance: %d\n", args[0], balance)
	return nil
}
