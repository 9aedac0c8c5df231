package app

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stacklok/talos/pkg/identity"
)

func newKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen [seed-file]",
		Short: "Generate a new Ed25519 identity and write its hex seed to a file",
		Args:  cobra.ExactArgs(1),
		RunE:  keygenCmdFunc,
	}
	return cmd
}

func keygenCmdFunc(_ *cobra.Command, args []string) error {
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate keypair: %w", err)
	}

	seedHex := hex.EncodeToString(kp.PrivateKey.Seed())
	if err := os.WriteFile(args[0], []byte(seedHex+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write seed file: %w", err)
	}

	fmt.Printf("Generated identity %s\n", kp.DID)
	fmt.Printf("Seed written to %s\n", args[0])
	return nil
}
