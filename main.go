// The main package for the harvester executable.
package main

import (
	"github.com/schoolwatch/harvester/cmd"
)

func main() {
	cmd.Execute()
}
