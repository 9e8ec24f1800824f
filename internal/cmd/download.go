package cmd

import "github.com/spf13/cobra"

var downloadCmd = &cobra.Command{
	Use:   "download PKGBUILD [PKGBUILD ...]",
	Short: "Download every recipe's sources into its src/ directory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecipes(args, throughFetch)
	},
}
