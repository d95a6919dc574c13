package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/accesstime/internal/access"
	"github.com/goodtune/accesstime/internal/config"
	"github.com/spf13/cobra"
)

var (
	checkFlags invocationFlags
	checkNow   int64
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] OPERATION",
	Short: "Simulate an invocation against current state",
	Long: `Check what an invocation would do without committing it: whether it
succeeds, which identities must sign it, the events it would emit and what it
would cost.`,
	Example: `  accesstime check buy_order --owner GALICE --package 1
  accesstime check grant --caller GADMIN --owner GALICE --order 3
  accesstime check start --owner GALICE --now 1767225600
  accesstime check -f invocation.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkFlags.register(checkCmd)
	checkCmd.Flags().Int64Var(&checkNow, "now", 0, "Evaluate at this unix time instead of the current time")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	inv, err := checkFlags.invocation(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	deps, err := openEngine(cfg, quietLogger(), false)
	if err != nil {
		return err
	}
	defer deps.Close()

	if checkNow > 0 {
		deps.engine.SetClock(&fixedClock{now: time.Unix(checkNow, 0)})
	}

	sim, err := deps.engine.Simulate(context.Background(), inv)
	printCheckResult(inv, sim, err)
	return nil
}

// printCheckResult prints the simulation result with colors
func printCheckResult(inv access.Invocation, sim *access.Simulation, simErr error) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	rule := strings.Repeat("━", 50)

	fmt.Println()
	_, _ = cyan.Println(rule)
	_, _ = cyan.Println("INVOCATION CHECK")
	_, _ = cyan.Println(rule)
	fmt.Println()

	fmt.Printf("Operation:  %s\n", inv.Op)
	if inv.Owner != "" {
		fmt.Printf("Owner:      %s\n", inv.Owner)
	}
	if inv.Caller != "" {
		fmt.Printf("Caller:     %s\n", inv.Caller)
	}
	fmt.Println()

	_, _ = cyan.Print("Decision:   ")
	if simErr != nil {
		_, _ = red.Println("FAIL")
		if kind, ok := access.Kind(simErr); ok {
			fmt.Printf("            → %s (code %d)\n", kind.Name, kind.Code)
		}
		fmt.Printf("            → %v\n", simErr)
		fmt.Println()
		_, _ = cyan.Println(rule)
		fmt.Println()
		return
	}

	_, _ = green.Println("OK")
	fmt.Printf("Digest:     %s\n", sim.Digest)
	if sim.Result.OrderID != 0 {
		fmt.Printf("Order:      %d\n", sim.Result.OrderID)
	}
	_, _ = yellow.Printf("Signers:    %s\n", strings.Join(sim.RequiredAuth, ", "))
	for _, e := range sim.Events {
		fmt.Printf("Event:      %s (key %s)\n", e.Topic, e.Key)
	}
	fmt.Printf("Cost:       %d reads, %d writes, %d token\n", sim.Cost.Reads, sim.Cost.Writes, sim.Cost.TokenAmount)

	fmt.Println()
	_, _ = cyan.Println(rule)
	fmt.Println()
}

// fixedClock pins the engine clock for what-if checks
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}
