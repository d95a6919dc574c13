package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/goodtune/accesstime/internal/auth"
	"github.com/goodtune/accesstime/internal/config"
	"github.com/spf13/cobra"
)

var (
	applyFlags invocationFlags
	applyAs    []string
)

var applyCmd = &cobra.Command{
	Use:   "apply [flags] OPERATION",
	Short: "Execute an invocation with operator authority",
	Long: `Execute an invocation directly against the configured storage, acting for
the identities named with --as. No authorization entries are checked: access to
the storage is the authority. Intended for bootstrapping and administration on
the host that owns the data.`,
	Example: `  accesstime apply init --as GADMIN --admin GADMIN --token XLM
  accesstime apply set_package --as GADMIN --package 1 --price 10 --duration 3600`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func init() {
	applyFlags.register(applyCmd)
	applyCmd.Flags().StringSliceVar(&applyAs, "as", nil, "Identities the invocation is authorized by (required)")
	_ = applyCmd.MarkFlagRequired("as")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	inv, err := applyFlags.invocation(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	deps, err := openEngine(cfg, logger, true)
	if err != nil {
		return err
	}
	defer deps.Close()

	res, err := deps.engine.Execute(context.Background(), auth.NewSet(applyAs...), inv)
	if err != nil {
		return fmt.Errorf("%s failed: %w", inv.Op, err)
	}

	green := color.New(color.FgGreen, color.Bold)
	_, _ = green.Printf("✅ %s applied", res.Operation)
	if res.OrderID != 0 {
		fmt.Printf(" (order %d)", res.OrderID)
	}
	fmt.Println()
	return nil
}
