package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var wizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Interactive manifest authoring (separate collaborator tool)",
}

var wizardRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Launch the interactive manifest wizard",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("wizard run is not part of this binary.")
		fmt.Println("Manifest authoring uses the pure Manifest mutation functions")
		fmt.Println("(AddHost, RemoveHost, SetDefault, SetGuestInventoryEntry) from")
		fmt.Println("pkg/manifest; the interactive terminal UI is a separate tool.")
		return runFailed(2, fmt.Errorf("wizard run: not implemented by this binary"))
	},
}

func init() {
	wizardCmd.AddCommand(wizardRunCmd)
}
