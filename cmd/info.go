package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/fluxarc/disk"
)

var infoCmd = &cobra.Command{
	Use:   "info FILE",
	Short: "Show the contents of a preservation image",
	Long:  "Show geometry, metadata and per-track statistics of an FXPD preservation image.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		d, err := disk.Load(args[0])
		if err != nil {
			cobra.CheckErr(err)
		}

		fmt.Printf("Geometry:      %d cylinders, %d heads, %d tracks with data\n",
			d.Cylinders, d.Heads, d.TrackCount())
		if d.Label != "" {
			fmt.Printf("Label:         %s\n", d.Label)
		}
		if d.SourceFormat != "" {
			fmt.Printf("Source format: %s\n", d.SourceFormat)
		}
		if d.SourceFile != "" {
			fmt.Printf("Source file:   %s\n", d.SourceFile)
		}
		if !d.PreservedAt.IsZero() {
			fmt.Printf("Preserved at:  %s\n", d.PreservedAt.Format("2006-01-02 15:04:05 MST"))
		}
		if d.ChecksumType != 0 {
			fmt.Printf("Checksum:      %x\n", d.Checksum)
		}

		for cyl := uint8(0); cyl < d.Cylinders; cyl++ {
			for head := uint8(0); head < d.Heads; head++ {
				t := d.TrackIfPresent(cyl, head)
				if t == nil {
					continue
				}
				fmt.Printf("Cylinder %2d head %d: %d revolutions", cyl, head, len(t.Revolutions))
				if len(t.Revolutions) > 0 {
					fmt.Printf(", %d bits", t.Revolutions[0].BitCount)
				}
				if len(t.WeakRegions) > 0 {
					fmt.Printf(", %d weak regions", len(t.WeakRegions))
				}
				if len(t.Revolutions) > 1 {
					if err := t.Fuse(); err == nil {
						if _, _, conf, err := t.Consensus(); err == nil {
							fmt.Printf(", %.2f%% consensus", conf)
						}
					}
				}
				fmt.Println()
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
