package simcli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const smokeScenario = `
name: cli-smoke
cells:
  - {index: 0, scs_khz: 30, prbs: 52, harq_processes: 8, max_retx: 2, default_mcs: 9}
ues:
  - {index: 0, rnti: 0x4601, pcell: 0}
traffic:
  seed: 7
  events:
    - {at_slot: 2, kind: dl_buffer, ue: 0, lcid: 1, bytes: 600}
`

func writeScenario(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

// runCLI executes the root command and captures both cobra output and the
// summaries written straight to stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	execErr := root.Execute()

	w.Close()
	os.Stdout = old

	var out bytes.Buffer
	out.ReadFrom(r)
	return out.String() + buf.String(), execErr
}

func TestCheckCommand(t *testing.T) {
	path := writeScenario(t, smokeScenario)

	out, err := runCLI(t, "check", path)
	if err != nil {
		t.Fatalf("check error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "cli-smoke") {
		t.Errorf("expected scenario name in output, got: %s", out)
	}
	if !strings.Contains(out, "Cells:     1") {
		t.Errorf("expected cell count in output, got: %s", out)
	}
}

func TestCheckCommandRejectsBadScenario(t *testing.T) {
	path := writeScenario(t, strings.Replace(smokeScenario, "rnti: 0x4601", "rnti: 0", 1))

	_, err := runCLI(t, "check", path)
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if !strings.Contains(err.Error(), "RNTI") {
		t.Errorf("error = %v, want RNTI validation failure", err)
	}
}

func TestRunCommand(t *testing.T) {
	path := writeScenario(t, smokeScenario)

	out, err := runCLI(t, "--log-level", "error", "run", path, "--slots", "40")
	if err != nil {
		t.Fatalf("run error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "Slots:     40") {
		t.Errorf("expected slot count in summary, got: %s", out)
	}
	if !strings.Contains(out, "DL:") || !strings.Contains(out, "UL:") {
		t.Errorf("expected per-direction summary lines, got: %s", out)
	}
}

func TestRunCommandMissingScenario(t *testing.T) {
	_, err := runCLI(t, "run", filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing scenario file")
	}
}
