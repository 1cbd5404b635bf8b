// Package cmd implements the seqsched CLI: seeding a run from a directory
// of FASTA files, driving the scheduler to completion, and reporting a
// one-row summary table (seeded task count and termination reason).
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/arctir/seqsched/config"
	"github.com/arctir/seqsched/hostprobe"
	"github.com/arctir/seqsched/procgroup"
	"github.com/arctir/seqsched/scheduler"
	"github.com/arctir/seqsched/seed"
	"github.com/arctir/seqsched/stage"
)

// SetupCLI constructs the cobra hierarchy for the seqsched CLI.
//
// Do not use this function from other Go packages. Import the libraries in
// this module directly instead — for example, [scheduler] or [seed].
//
// [scheduler]: https://github.com/arctir/seqsched/tree/main/scheduler
// [seed]: https://github.com/arctir/seqsched/tree/main/seed
func SetupCLI() *cobra.Command {
	seqschedCmd.AddCommand(runCmd)
	seqschedCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	return seqschedCmd
}

func runSeqsched(cmd *cobra.Command, args []string) {
	if len(args) == 0 {
		cmd.Help()
		os.Exit(0)
	}
}

func runConfig(cmd *cobra.Command, args []string) {
	if len(args) == 0 {
		cmd.Help()
		os.Exit(0)
	}
}

// runConfigValidate defines the behavior of `seqsched config validate`.
func runConfigValidate(cmd *cobra.Command, args []string) {
	opts := newSeqschedOpts(cmd.Flags())
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		outputErrorAndFail(fmt.Sprintf("config did not validate: %s", err))
	}
	fmt.Printf("config OK: %d stage(s) in job_core_num, %d stage(s) in job_mem_num\n", len(cfg.JobCoreNum), len(cfg.JobMemNum))
}

// runRun defines the behavior of `seqsched run`: seed tasks from a FASTA
// directory, run the scheduler to completion, and exit with the code
// matching the termination reason.
func runRun(cmd *cobra.Command, args []string) {
	opts := newSeqschedOpts(cmd.Flags())

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		outputErrorAndFail(fmt.Sprintf("failed loading config: %s", err))
	}

	tasks, err := seed.FromFASTA(opts.inputDir, cfg)
	if err != nil {
		outputErrorAndFail(fmt.Sprintf("failed seeding tasks from %s: %s", opts.inputDir, err))
	}
	if len(tasks) == 0 {
		outputErrorAndFail(fmt.Sprintf("no .fasta/.fa/.fna files found in %s", opts.inputDir))
	}

	hp := hostprobe.New()
	pg := &procgroup.Linux{}
	runner := stage.NewProcess(cfg)
	mon := scheduler.NewWithRunner(cfg, hp, pg, runner, func() int64 { return time.Now().Unix() })

	if err := mon.Initialize(); err != nil {
		outputErrorAndFail(fmt.Sprintf("failed initializing scheduler: %s", err))
	}
	if err := mon.Seed(tasks); err != nil {
		outputErrorAndFail(fmt.Sprintf("failed seeding ready queue: %s", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reason := mon.Run(ctx)
	log.Info().Str("termination", reason.String()).Msg("scheduler run finished")

	output(newTerminationTableOutput(reason, len(tasks)))
	os.Exit(reason.ExitCode())
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadDefault()
	}
	return config.Load(path)
}

func newSeqschedOpts(fs *pflag.FlagSet) seqschedOpts {
	path, _ := fs.GetString(configFlag)
	dir, _ := fs.GetString(inputDirFlag)
	return seqschedOpts{configPath: path, inputDir: dir}
}

func output(out []byte) {
	fmt.Printf("%s", out)
}

func outputErrorAndFail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	// exit(1) is the catchall for CLI-level failures (bad flags, unreadable
	// config); a scheduler run that actually executes uses the
	// scheduler.TerminationReason exit codes instead.
	os.Exit(1)
}

func newTerminationTableOutput(reason scheduler.TerminationReason, seeded int) []byte {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"seeded tasks", "termination"})
	table.Append([]string{strconv.Itoa(seeded), reason.String()})
	table.Render()
	return buf.Bytes()
}
