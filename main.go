package main

import (
	"fmt"
	"os"

	"github.com/arctir/seqsched/cmd"
)

func main() {
	seqschedCmd := cmd.SetupCLI()
	if err := seqschedCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
