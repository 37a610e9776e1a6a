package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/fluxarc/preset"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the available decoder presets",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range preset.Names() {
			p, err := preset.Lookup(name)
			if err != nil {
				cobra.CheckErr(err)
			}
			fmt.Printf("%-12s %5.0f ns %-9s %s\n",
				p.Name, p.BitcellNs, p.Algorithm, p.Description)
		}
	},
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}
