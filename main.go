// The main package for the pagesnap executable.
package main

import (
	"github.com/JakeFAU/pagesnap/cmd"
)

func main() {
	cmd.Execute()
}
