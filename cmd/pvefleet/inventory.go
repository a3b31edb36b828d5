package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Guest discovery and inventory reconciliation (separate collaborator tool)",
}

var inventoryConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Discover guests on a host and reconcile them into its guest_inventory",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("inventory configure is not part of this binary.")
		fmt.Println("Guest discovery reconciles against a host's guest_inventory via")
		fmt.Println("pkg/manifest's SetGuestInventoryEntry; the discovery wizard itself")
		fmt.Println("is a separate tool.")
		return runFailed(2, fmt.Errorf("inventory configure: not implemented by this binary"))
	},
}

func init() {
	inventoryCmd.AddCommand(inventoryConfigureCmd)
}
