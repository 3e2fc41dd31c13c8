package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcuoli/go-piremote/pkg/piremote/network"
)

func newSubnetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subnet",
		Short: "Print the local /24 prefix that scan uses by default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := network.LocalPrefix()
			cidr, err := network.PrefixCIDR(prefix)
			if err != nil {
				return err
			}
			if ip, err := network.LocalIPv4(); err == nil {
				log.WithField("address", ip.String()).Debug("local interface")
			} else {
				log.WithError(err).Debug("no local IPv4, using default prefix")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", prefix, cidr)
			return nil
		},
	}
}
