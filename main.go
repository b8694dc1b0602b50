// The main package for the placecrawler executable.
package main

import (
	"github.com/JakeFAU/placecrawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
