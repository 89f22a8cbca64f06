// The main package for the research-scraper executable.
package main

import (
	"github.com/JakeFAU/research-scraper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
