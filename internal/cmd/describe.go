package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zibuild/zibuild/internal/recipe"
)

var describeCmd = &cobra.Command{
	Use:   "describe PKGBUILD [PKGBUILD ...]",
	Short: "Print each recipe's name, version, licenses and description",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipes, err := recipe.LoadAll(cfg.PkgbuildDir, args)
		if err != nil {
			return err
		}
		for i, r := range recipes {
			if i > 0 {
				fmt.Println()
			}
			fmt.Println(describe(r))
		}
		return nil
	},
}

// describe renders a recipe as "name version [licenses]\ndescription",
// matching the original implementation's Package::info().
func describe(r *recipe.Recipe) string {
	return fmt.Sprintf("%s %s %q\n%s", r.Name, r.Version, r.Licenses, r.Description)
}
