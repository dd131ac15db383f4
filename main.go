// The main package for the summaries executable.
package main

import (
	"github.com/JakeFAU/summary-ingestor/cmd"
)

func main() {
	cmd.Execute()
}
