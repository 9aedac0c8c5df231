package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [capability-file] [scope]",
		Short: "Verify a capability's signature, expiry, and scope offline",
		Args:  cobra.ExactArgs(2),
		RunE:  verifyCmdFunc,
	}
	return cmd
}

func verifyCmdFunc(cmd *cobra.Command, args []string) error {
	capFile, scope := args[0], args[1]

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

	if err := mgr.Verify(c, scope, nil); err != nil {
		fmt.Printf("INVALID: %v\n", err)
		return err
	}

	fmt.Printf("VALID: capability %s authorizes %q for %s until it expires\n", c.ID, scope, c.Subject)
	return nil
}
