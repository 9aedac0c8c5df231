package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [capability-file]",
		Short: "Print a capability's fields in human-readable form",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectCmdFunc,
	}
}

func inspectCmdFunc(_ *cobra.Command, args []string) error {
	c, err := readCapabilityFile(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:           %s\n", c.ID)
	fmt.Printf("Issuer:       %s\n", c.Issuer)
	fmt.Printf("Subject:      %s\n", c.Subject)
	fmt.Printf("Scope:        %s\n", c.Scope)
	fmt.Printf("Issued:       %s\n", time.Unix(c.IssuedAt, 0).UTC().Format(time.RFC3339))
	fmt.Printf("Expires:      %s\n", time.Unix(c.ExpiresAt, 0).UTC().Format(time.RFC3339))
	fmt.Printf("Delegatable:  %t\n", c.Delegatable)
	if len(c.DelegationChain) > 0 {
		fmt.Printf("Chain:        %v\n", c.DelegationChain)
	}
	if len(c.Constraints) > 0 {
		fmt.Printf("Constraints:  %v\n", c.Constraints)
	}
	return nil
}
