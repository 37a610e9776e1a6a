package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/fluxarc/preset"
)

var userCatalogPath string

var rootCmd = &cobra.Command{
	Use:   "fluxarc",
	Short: "A CLI program which inspects and verifies flux-level disk preservations",
	Long:  "The fluxarc tool inspects, verifies and analyzes flux-level floppy disk preservation images.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if userCatalogPath != "" {
			if err := preset.LoadUserCatalog(userCatalogPath); err != nil {
				cobra.CheckErr(fmt.Errorf("failed to load preset catalog: %w", err))
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&userCatalogPath, "presets", "",
		"path to a user preset catalog merged over the built-ins")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
