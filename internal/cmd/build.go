package cmd

import "github.com/spf13/cobra"

var buildCmd = &cobra.Command{
	Use:   "build PKGBUILD [PKGBUILD ...]",
	Short: "Download, build and package every recipe",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecipes(args, throughBuild)
	},
}
