package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/goodtune/accesstime/internal/access"
	"github.com/spf13/cobra"
)

// invocationFlags collects an invocation from flags or a JSON file.
type invocationFlags struct {
	file         string
	admin        string
	tokenAsset   string
	caller       string
	owner        string
	packageID    uint32
	price        int64
	durationSecs uint32
	orderID      uint64
}

func (f *invocationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Read the invocation as JSON from a file (- for stdin)")
	cmd.Flags().StringVar(&f.admin, "admin", "", "Admin identity (init)")
	cmd.Flags().StringVar(&f.tokenAsset, "token", "", "Token asset (init)")
	cmd.Flags().StringVar(&f.caller, "caller", "", "Caller identity (grant)")
	cmd.Flags().StringVar(&f.owner, "owner", "", "Session owner")
	cmd.Flags().Uint32Var(&f.packageID, "package", 0, "Package id")
	cmd.Flags().Int64Var(&f.price, "price", 0, "Package price (set_package)")
	cmd.Flags().Uint32Var(&f.durationSecs, "duration", 0, "Package duration in seconds (set_package)")
	cmd.Flags().Uint64Var(&f.orderID, "order", 0, "Order id (grant)")
}

// invocation builds the invocation for args, which hold the operation
// name unless --file is given.
func (f *invocationFlags) invocation(args []string) (access.Invocation, error) {
	var inv access.Invocation

	if f.file != "" {
		var r io.Reader = os.Stdin
		if f.file != "-" {
			file, err := os.Open(f.file)
			if err != nil {
				return inv, fmt.Errorf("failed to open invocation: %w", err)
			}
			defer file.Close()
			r = file
		}
		if err := json.NewDecoder(r).Decode(&inv); err != nil {
			return inv, fmt.Errorf("failed to decode invocation: %w", err)
		}
		return inv, inv.Validate()
	}

	if len(args) != 1 {
		return inv, fmt.Errorf("an operation name or --file is required")
	}

	inv = access.Invocation{
		Op:           args[0],
		Admin:        f.admin,
		TokenAsset:   f.tokenAsset,
		Caller:       f.caller,
		Owner:        f.owner,
		PackageID:    f.packageID,
		Price:        f.price,
		DurationSecs: f.durationSecs,
		OrderID:      f.orderID,
	}
	return inv, inv.Validate()
}
