package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arctir/seqsched/task"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
input_config_path: /data/in
output_path: /data/out
job_core_num:
  signalp6: 2
job_mem_num:
  signalp6: [1,1,1,1,1,1,1,1,1,1,2,4]
total_core_num: auto
total_mem_num: 32
mem_buffer: 8
wait_time_max: 15
wait_time_mid: 6
`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !c.TotalCoreNum.Auto {
		t.Fatal("expected total_core_num to parse as auto")
	}
	if c.TotalMemNum.Resolve(-1) != 32 {
		t.Fatalf("expected total_mem_num 32, got %d", c.TotalMemNum.Resolve(-1))
	}
	if c.MemBufferGB != 8 {
		t.Fatalf("expected mem_buffer 8, got %v", c.MemBufferGB)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
job_core_num:
  signalp6: 2
job_mem_num:
  signalp6: [1,1,1,1,1,1,1,1,1,1,2,4]
total_core_num: 4
total_mem_num: 16
`)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.MemBufferGB != defaultMemBufferGB {
		t.Fatalf("expected default mem buffer, got %v", c.MemBufferGB)
	}
	if c.WaitTimeMaxPct != defaultWaitTimeMaxPct || c.WaitTimeMidPct != defaultWaitTimeMidPct {
		t.Fatalf("expected default wait-time percentages, got max=%v mid=%v", c.WaitTimeMaxPct, c.WaitTimeMidPct)
	}
}

func TestLoadRejectsMalformedTotalCoreNum(t *testing.T) {
	path := writeConfig(t, `
job_core_num:
  signalp6: 2
job_mem_num:
  signalp6: [1,1,1,1,1,1,1,1,1,1,2,4]
total_core_num: "sometimes"
total_mem_num: 16
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid total_core_num literal")
	}
}

func TestLoadRejectsShortMemTable(t *testing.T) {
	path := writeConfig(t, `
job_core_num:
  signalp6: 2
job_mem_num:
  signalp6: [1,2,3]
total_core_num: 4
total_mem_num: 16
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected an error for a job_mem_num table without 12 entries")
	}
	if _, ok := err.(Error); !ok {
		t.Fatalf("expected a config.Error, got %T", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestReservations(t *testing.T) {
	path := writeConfig(t, validYAML)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	cpu, mem, err := c.Reservations(task.StageSignalP6, 250)
	if err != nil {
		t.Fatal(err)
	}
	if cpu != 2 {
		t.Fatalf("expected cpu 2, got %d", cpu)
	}
	if mem != 1 {
		t.Fatalf("expected bucket-2 mem 1 (seqLen 250 -> bucket index 2), got %v", mem)
	}
}

func TestReservationsUnknownStage(t *testing.T) {
	path := writeConfig(t, validYAML)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Reservations(task.StageHHSearch, 100); err == nil {
		t.Fatal("expected an error for a stage missing from job_core_num")
	}
}
