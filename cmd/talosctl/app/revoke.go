package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke [capability-file] [reason]",
		Short: "Revoke a capability",
		Long: `Revoke marks a capability's ID as revoked in the revocation table of a
CapabilityManager that this command builds from the seed. That table lives
only in memory and is discarded when the command exits: revocation state is
not persisted anywhere, so no later CapabilityManager, even one built from
the same seed, sees the revocation.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: revokeCmdFunc,
	}
	return cmd
}

func revokeCmdFunc(cmd *cobra.Command, args []string) error {
	capFile := args[0]
	reason := "revoked via talosctl"
	if len(args) == 2 {
		reason = args[1]
	}

	seedFile, _ := cmd.Flags().GetString("seed-file")
	kp, err := loadKeyPair(seedFile)
	if err != nil {
		return err
	}
	mgr := newManager(kp)

	c, err := readCapabilityFile(capFile)
	if err != nil {
		return err
	}

	if err := mgr.Revoke(c.ID, reason); err != nil {
		return fmt.Errorf("failed to revoke capability: %w", err)
	}

	fmt.Printf("Revoked capability %s (%s)\n", c.ID, reason)
	return nil
}
