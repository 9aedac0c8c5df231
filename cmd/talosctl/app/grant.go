package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacklok/talos/pkg/capability"
)

func newGrantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant [subject] [scope] [out-file]",
		Short: "Grant a new capability and write it to a file",
		Long: `Grant mints a new capability naming subject as the recipient and scope as
the permitted tool/method pattern (e.g. "tool:weather/method:get"), then
writes the canonical JSON encoding to out-file.`,
		Args: cobra.ExactArgs(3),
		RunE: grantCmdFunc,
	}
	cmd.Flags().Duration("ttl", time.Hour, "Time-to-live before the capability expires")
	cmd.Flags().Bool("delegatable", false, "Allow the recipient to delegate this capability further")
	return cmd
}

func grantCmdFunc(cmd *cobra.Command, args []string) error {
	subject, scope, outFile := args[0], args[1], args[2]

	seedFile, _ := cmd.Flags().GetString("seed-file")
	kp, err := loadKeyPair(seedFile)
	if err != nil {
		return err
	}
	mgr := newManager(kp)

	ttl, _ := cmd.Flags().GetDuration("ttl")
	delegatable, _ := cmd.Flags().GetBool("delegatable")

	c, err := mgr.Grant(subject, scope, capability.Constraints{}, ttl, delegatable)
	if err != nil {
		return fmt.Errorf("failed to grant capability: %w", err)
	}

	if err := writeCapabilityFile(outFile, c); err != nil {
		return err
	}

	fmt.Printf("Granted capability %s to %s for %s (expires %s)\n",
		c.ID, subject, scope, time.Unix(c.ExpiresAt, 0).UTC().Format(time.RFC3339))
	fmt.Printf("Written to %s\n", outFile)
	return nil
}
