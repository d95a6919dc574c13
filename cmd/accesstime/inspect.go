package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/goodtune/accesstime/internal/access"
	"github.com/goodtune/accesstime/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show stored state",
	Long:  `Read instance, catalog, session and order state from the configured storage and print it as YAML.`,
}

func inspectCommand(use, short string, args cobra.PositionalArgs, query func(ctx context.Context, e *access.Engine, args []string) (interface{}, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			deps, err := openEngine(cfg, quietLogger(), false)
			if err != nil {
				return err
			}
			defer deps.Close()

			out, err := query(cmd.Context(), deps.engine, args)
			if err != nil {
				return err
			}
			return printYAML(out)
		},
	}
}

func init() {
	inspectCmd.AddCommand(
		inspectCommand("instance", "Show the instance admin and token", cobra.NoArgs,
			func(ctx context.Context, e *access.Engine, _ []string) (interface{}, error) {
				return e.Instance(ctx)
			}),
		inspectCommand("packages", "List the package catalog", cobra.NoArgs,
			func(ctx context.Context, e *access.Engine, _ []string) (interface{}, error) {
				return e.ListPackages(ctx)
			}),
		inspectCommand("session OWNER", "Show an owner's session and projected balance", cobra.ExactArgs(1),
			func(ctx context.Context, e *access.Engine, args []string) (interface{}, error) {
				return sessionView(ctx, e, args[0])
			}),
		inspectCommand("orders OWNER", "List an owner's orders", cobra.ExactArgs(1),
			func(ctx context.Context, e *access.Engine, args []string) (interface{}, error) {
				return e.ListOrders(ctx, args[0])
			}),
		inspectCommand("order ID", "Show one order", cobra.ExactArgs(1),
			func(ctx context.Context, e *access.Engine, args []string) (interface{}, error) {
				id, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid order id: %s", args[0])
				}
				return e.GetOrder(ctx, id)
			}),
	)
	rootCmd.AddCommand(inspectCmd)
}

type sessionReport struct {
	Owner         string `yaml:"owner"`
	Running       bool   `yaml:"running"`
	StartedAt     uint64 `yaml:"started_at,omitempty"`
	StoredSecs    uint32 `yaml:"stored_secs"`
	RemainingSecs uint32 `yaml:"remaining_secs"`
	ExpiresAt     uint64 `yaml:"expires_at,omitempty"`
	Now           uint64 `yaml:"now"`
}

func sessionView(ctx context.Context, e *access.Engine, owner string) (*sessionReport, error) {
	session, err := e.GetSession(ctx, owner)
	if err != nil {
		return nil, err
	}
	now := e.Now()
	remaining, err := e.Remaining(ctx, owner, now)
	if err != nil {
		return nil, err
	}
	a, err := e.GetAccess(ctx, owner)
	if err != nil {
		return nil, err
	}

	return &sessionReport{
		Owner:         owner,
		Running:       session.Running(),
		StartedAt:     session.StartedAt,
		StoredSecs:    session.RemainingSecs,
		RemainingSecs: remaining,
		ExpiresAt:     a.ExpiresAt,
		Now:           now,
	}, nil
}

func printYAML(v interface{}) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}
