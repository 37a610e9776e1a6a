package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/fluxarc/disk"
)

var verifyCmd = &cobra.Command{
	Use:   "verify FILE",
	Short: "Check the integrity of a preservation image",
	Long:  "Recompute every revolution checksum and the whole-disk checksum of an FXPD preservation image.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		d, err := disk.Load(args[0])
		if err != nil {
			cobra.CheckErr(err)
		}
		if err := d.Verify(); err != nil {
			cobra.CheckErr(fmt.Errorf("verification failed: %w", err))
		}
		fmt.Printf("%s: %d tracks verified, all checksums match\n", args[0], d.TrackCount())
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
