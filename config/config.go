// Package config loads the scheduler's YAML configuration (C9): resource
// tables, credit defaults, and the filesystem paths stage.Process needs to
// invoke each pipeline tool.
package config

import (
	"fmt"
	"os"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/arctir/seqsched/priority"
	"github.com/arctir/seqsched/task"
)

// defaultConfigRelPath is joined with the XDG config home to find the
// default config file when none is given explicitly, mirroring the
// teacher's XDG-based default path resolution in proctor/cmd/cmd_config.go.
const defaultConfigRelPath = "seqsched/config.yaml"

// Error is a typed config error: missing required key, or an unreadable /
// malformed file. Surfaced at startup; the process exits non-zero.
type Error struct {
	Path   string
	Reason string
}

func (e Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Path, e.Reason)
}

// AutoOrInt represents a config value that is either a literal integer or
// the string "auto" (meaning: derive it from a host probe at init time).
type AutoOrInt struct {
	Auto  bool
	Value int
}

// Resolve returns Value, or fallback if Auto is set.
func (a AutoOrInt) Resolve(fallback int) int {
	if a.Auto {
		return fallback
	}
	return a.Value
}

func (a *AutoOrInt) UnmarshalYAML(value *yaml.Node) error {
	// Try the integer form first: any scalar, integers included, also
	// decodes successfully into a string.
	var asInt int
	if err := value.Decode(&asInt); err == nil {
		a.Value = asInt
		return nil
	}
	var asString string
	if err := value.Decode(&asString); err != nil {
		return fmt.Errorf("config: invalid value, expected an integer or \"auto\": %w", err)
	}
	if asString != "auto" {
		return fmt.Errorf("config: invalid value %q, expected an integer or \"auto\"", asString)
	}
	a.Auto = true
	return nil
}

// Config mirrors §6's configuration mapping.
type Config struct {
	InputConfigPath string `yaml:"input_config_path"`
	OutputPath      string `yaml:"output_path"`

	JobCoreNum map[string]int       `yaml:"job_core_num"`
	JobMemNum  map[string][]float64 `yaml:"job_mem_num"`

	TotalCoreNum AutoOrInt `yaml:"total_core_num"`
	TotalMemNum  AutoOrInt `yaml:"total_mem_num"`

	MemBufferGB    float64 `yaml:"mem_buffer"`
	WaitTimeMaxPct float64 `yaml:"wait_time_max"`
	WaitTimeMidPct float64 `yaml:"wait_time_mid"`

	// StagePaths holds the database/search-tool filesystem paths each stage
	// binary needs (e.g. "hhblits_uniref_1_db", "psipred_data_dir"). Consumed
	// only by stage.Process; the scheduler itself never interprets these.
	StagePaths map[string]string `yaml:"stage_paths"`
}

const (
	defaultMemBufferGB    = 10
	defaultWaitTimeMaxPct = 10
	defaultWaitTimeMidPct = 5
)

// applyDefaults fills in zero-valued fields with spec defaults.
func (c *Config) applyDefaults() {
	if c.MemBufferGB == 0 {
		c.MemBufferGB = defaultMemBufferGB
	}
	if c.WaitTimeMaxPct == 0 {
		c.WaitTimeMaxPct = defaultWaitTimeMaxPct
	}
	if c.WaitTimeMidPct == 0 {
		c.WaitTimeMidPct = defaultWaitTimeMidPct
	}
}

func (c *Config) validate(path string) error {
	if len(c.JobCoreNum) == 0 {
		return Error{Path: path, Reason: "job_core_num must specify at least one stage"}
	}
	if len(c.JobMemNum) == 0 {
		return Error{Path: path, Reason: "job_mem_num must specify at least one stage"}
	}
	for stage, table := range c.JobMemNum {
		if len(table) != 12 {
			return Error{Path: path, Reason: fmt.Sprintf("job_mem_num[%s] must have 12 length-bucket entries, got %d", stage, len(table))}
		}
	}
	return nil
}

// Load reads and parses a YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Error{Path: path, Reason: err.Error()}
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, Error{Path: path, Reason: fmt.Sprintf("parsing YAML: %s", err)}
	}
	c.applyDefaults()
	if err := c.validate(path); err != nil {
		return nil, err
	}
	return &c, nil
}

// DefaultPath resolves the default config file location under the XDG
// config home, following the same resolution style as the teacher's
// proctor/cmd/cmd_config.go.
func DefaultPath() (string, error) {
	p, err := xdg.ConfigFile(defaultConfigRelPath)
	if err != nil {
		return "", Error{Path: defaultConfigRelPath, Reason: err.Error()}
	}
	return p, nil
}

// LoadDefault loads the config at DefaultPath.
func LoadDefault() (*Config, error) {
	p, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return Load(p)
}

// Reservations returns the (cpu, memGB) a task should reserve for the given
// stage and sequence length, per §4.8's "memory reservation lookup".
func (c *Config) Reservations(stage task.Stage, seqLen int) (int, float64, error) {
	cpu, ok := c.JobCoreNum[string(stage)]
	if !ok {
		return 0, 0, fmt.Errorf("config: no job_core_num entry for stage %q", stage)
	}
	table, ok := c.JobMemNum[string(stage)]
	if !ok {
		return 0, 0, fmt.Errorf("config: no job_mem_num entry for stage %q", stage)
	}
	bucket := priority.LengthBucket(seqLen)
	if bucket >= len(table) {
		return 0, 0, fmt.Errorf("config: job_mem_num[%s] has no entry for bucket %d", stage, bucket)
	}
	return cpu, table[bucket], nil
}
