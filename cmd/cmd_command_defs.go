package cmd

import (
	"github.com/spf13/cobra"
)

var seqschedCmd = &cobra.Command{
	Use:   "seqsched",
	Short: "A resource-aware scheduler for multi-stage protein-sequence pipelines.",
	Run:   runSeqsched,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Seed a directory of FASTA files and run the scheduler until every task finishes, gives up, or a fatal memory condition is hit.",
	Run:   runRun,
}

var configCmd = &cobra.Command{
	Use:     "config",
	Aliases: []string{"cfg"},
	Short:   "Inspect scheduler configuration.",
	Run:     runConfig,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load a config file and report whether it parses and passes validation.",
	Run:   runConfigValidate,
}
