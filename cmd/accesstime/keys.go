package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goodtune/accesstime/internal/auth"
	"github.com/spf13/cobra"
)

var (
	keygenIdentity string

	signFlags    invocationFlags
	signIdentity string
	signKeyFile  string
	signTTL      time.Duration
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 signing key for an identity",
	Long: `Generate an Ed25519 key pair. The public half goes into instance.identities
in the server configuration; the private seed stays with the signer.`,
	RunE: runKeygen,
}

var signCmd = &cobra.Command{
	Use:   "sign [flags] OPERATION",
	Short: "Sign an authorization entry for an invocation",
	Long: `Sign an authorization entry approving exactly one invocation. The entry is
printed to stdout and is submitted together with the invocation.`,
	Example: `  accesstime sign buy_order --owner GALICE --package 1 --identity GALICE --key-file alice.key
  accesstime sign -f invocation.json --identity GADMIN --key-file admin.key --ttl 2m`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSign,
}

func init() {
	keygenCmd.Flags().StringVar(&keygenIdentity, "identity", "", "Identity the key belongs to")

	signFlags.register(signCmd)
	signCmd.Flags().StringVar(&signIdentity, "identity", "", "Signing identity (required)")
	signCmd.Flags().StringVar(&signKeyFile, "key-file", "", "File holding the base64 private key (required)")
	signCmd.Flags().DurationVar(&signTTL, "ttl", 5*time.Minute, "Entry lifetime")
	_ = signCmd.MarkFlagRequired("identity")
	_ = signCmd.MarkFlagRequired("key-file")

	rootCmd.AddCommand(keygenCmd, signCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	identity := keygenIdentity
	if identity == "" {
		identity = "<identity>"
	}

	fmt.Println("# server configuration")
	fmt.Println("instance:")
	fmt.Println("  identities:")
	fmt.Printf("    - id: %s\n", identity)
	fmt.Printf("      public_key: %s\n", base64.StdEncoding.EncodeToString(pub))
	fmt.Println()
	fmt.Println("# private key, keep secret")
	fmt.Println(base64.StdEncoding.EncodeToString(priv.Seed()))
	return nil
}

func runSign(cmd *cobra.Command, args []string) error {
	inv, err := signFlags.invocation(args)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(signKeyFile)
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := auth.DecodePrivateKey(strings.TrimSpace(string(raw)))
	if err != nil {
		return err
	}

	digest, err := inv.Digest()
	if err != nil {
		return err
	}
	entry, err := auth.Sign(signIdentity, key, digest, signTTL, time.Now())
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	fmt.Println(entry)
	return nil
}
