// Command tinkerpen serves live HTML/CSS/JS pens and runs them from the
// command line.
package main

import (
	"os"

	"github.com/livetemplate/tinkerpen/cmd/tinkerpen/commands"
)

var version = "0.1.0-dev"

func main() {
	if err := commands.NewRootCmd(version).Execute(); err != nil {
		os.Exit(1)
	}
}
