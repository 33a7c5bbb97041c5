package main

import (
	"github.com/spf13/cobra"

	"github.com/romshark/vportpump/log"
	"github.com/romshark/vportpump/softnic"
)

var vethQueues int

var vportsCmd = &cobra.Command{
	Use:   "vports",
	Short: "Manage veth pairs backing AF_XDP virtual ports.",
}

var vportsCreateCmd = &cobra.Command{
	Use:   "create NAME PEER",
	Short: "Create a veth pair and bring both ends up.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := softnic.CreateVethPair(args[0], args[1], vethQueues); err != nil {
			return err
		}
		log.Infof("created veth pair %s/%s with %d queues", args[0], args[1], vethQueues)
		return nil
	},
}

var vportsDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a link. Deleting one end of a veth pair removes both.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := softnic.DeleteLink(args[0]); err != nil {
			return err
		}
		log.Infof("deleted link %s", args[0])
		return nil
	},
}

func init() {
	vportsCreateCmd.Flags().IntVarP(&vethQueues, "queues", "q", 1,
		"RX and TX queues per veth end")
	vportsCmd.AddCommand(vportsCreateCmd, vportsDeleteCmd)
}
