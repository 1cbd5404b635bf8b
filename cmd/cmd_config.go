package cmd

const (
	configFlag   = "config"
	inputDirFlag = "input-dir"
)

type seqschedOpts struct {
	configPath string
	inputDir   string
}

// CLI flags to initialize.
func init() {
	runCmd.Flags().StringP(configFlag, "c", "", "Path to the scheduler's YAML config file. Defaults to the XDG config path (seqsched/config.yaml) when unset.")
	runCmd.Flags().String(inputDirFlag, "", "Directory of .fasta/.fa/.fna files to seed the run with.")
	runCmd.MarkFlagRequired(inputDirFlag)

	configValidateCmd.Flags().StringP(configFlag, "c", "", "Path to the scheduler's YAML config file. Defaults to the XDG config path (seqsched/config.yaml) when unset.")
}
