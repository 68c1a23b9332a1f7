package main

import (
	"fmt"
	"os"

	"github.com/signalsfoundry/ran-scheduler/internal/simcli"
)

func main() {
	if err := simcli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
