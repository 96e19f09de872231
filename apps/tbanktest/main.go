// Command tbanktest exercises the T-Bank recurrent payment flow against a terminal.
package main

import (
	"log"
	"os"

	"github.com/lim5max/checklytool/core"
)

func main() {
	conf := core.NewConfig()
	if err := newRootCmd(conf.TBank, os.Stdin, os.Stdout).Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
