// Command zibuild downloads, builds and packages source recipes.
package main

import "github.com/zibuild/zibuild/internal/cmd"

func main() {
	cmd.Execute()
}
