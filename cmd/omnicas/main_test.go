package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testConfig writes a configuration with two file-backed clusters, the
// first mirrored to the second, and returns its path.
func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
logging:
  level: error
  output: %s
engine:
  name: sim
  retry_sleep: 1ms
clusters:
  - address: primary
    store:
      type: file
      options:
        root: %s
    replica: mirror
    compression: gzip
    retention_classes:
      - name: short
        period: 1h
  - address: mirror
    store:
      type: file
      options:
        root: %s
`, filepath.Join(dir, "omnicas.log"), filepath.Join(dir, "primary"), filepath.Join(dir, "mirror"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func runOK(t *testing.T, cfg string, args ...string) string {
	t.Helper()
	var stdout, stderr bytes.Buffer
	if err := run(append([]string{"--config", cfg}, args...), &stdout, &stderr); err != nil {
		t.Fatalf("omnicas %s failed: %v\n%s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String()
}

func runErr(t *testing.T, cfg string, args ...string) error {
	t.Helper()
	var stdout, stderr bytes.Buffer
	return run(append([]string{"--config", cfg}, args...), &stdout, &stderr)
}

func TestClipLifecycle(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()

	report := filepath.Join(dir, "report.txt")
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(report, []byte(strings.Repeat("revenue ", 1000)), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.WriteFile(notes, []byte("see appendix"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	id := strings.TrimSpace(runOK(t, cfg, "clip", "put", "--attr", "dept=finance", report, notes))
	if id == "" {
		t.Fatal("clip put printed no id")
	}

	if out := runOK(t, cfg, "clip", "exists", id); strings.TrimSpace(out) != "true" {
		t.Errorf("clip exists = %q, want true", out)
	}

	info := runOK(t, cfg, "clip", "info", id)
	for _, want := range []string{"report.txt", "dept", "finance", "Blobs"} {
		if !strings.Contains(info, want) {
			t.Errorf("clip info missing %q:\n%s", want, info)
		}
	}

	got := filepath.Join(dir, "got.txt")
	runOK(t, cfg, "clip", "get", "--file", "notes.txt", id, got)
	if data, _ := os.ReadFile(got); string(data) != "see appendix" {
		t.Errorf("clip get wrote %q", data)
	}
	if err := runErr(t, cfg, "clip", "get", "--file", "missing.txt", id, got); err == nil {
		t.Error("clip get of a missing file succeeded")
	}

	raw := filepath.Join(dir, "clip.raw")
	runOK(t, cfg, "clip", "export", id, raw)
	if imported := strings.TrimSpace(runOK(t, cfg, "clip", "import", id, raw)); imported != id {
		t.Errorf("clip import = %s, want %s", imported, id)
	}

	runOK(t, cfg, "clip", "rm", "--reason", "expired", id)
	if out := runOK(t, cfg, "clip", "exists", id); strings.TrimSpace(out) != "false" {
		t.Errorf("clip exists after rm = %q, want false", out)
	}

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(runOK(t, cfg, "query", "--deleted")), "\n") {
		var res struct {
			ClipID string `json:"clipId"`
		}
		if err := json.Unmarshal([]byte(line), &res); err != nil {
			t.Fatalf("query line %q: %v", line, err)
		}
		found = found || res.ClipID == id
	}
	if !found {
		t.Errorf("query --deleted did not list %s", id)
	}
}

func TestRetentionClassBlocksDelete(t *testing.T) {
	cfg := testConfig(t)
	file := filepath.Join(t.TempDir(), "contract.pdf")
	if err := os.WriteFile(file, []byte("signed"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if out := runOK(t, cfg, "retention", "classes"); !strings.Contains(out, "short") {
		t.Errorf("retention classes = %q", out)
	}

	id := strings.TrimSpace(runOK(t, cfg, "clip", "put", "--class", "short", file))
	if err := runErr(t, cfg, "clip", "rm", id); err == nil {
		t.Error("clip rm of a retained clip succeeded")
	}
	if err := runErr(t, cfg, "clip", "put", "--class", "nosuchclass", file); err == nil {
		t.Error("clip put with an unknown class succeeded")
	}
}

func TestPoolCommands(t *testing.T) {
	cfg := testConfig(t)

	info := runOK(t, cfg, "pool", "info")
	for _, want := range []string{"primary", "mirror", "Capacity"} {
		if !strings.Contains(info, want) {
			t.Errorf("pool info missing %q:\n%s", want, info)
		}
	}
	caps := runOK(t, cfg, "--pool", "mirror", "pool", "capabilities")
	if !strings.Contains(caps, "privileged-delete") {
		t.Errorf("pool capabilities:\n%s", caps)
	}
	if err := runErr(t, cfg, "--pool", "nowhere", "pool", "info"); err == nil {
		t.Error("pool info on an unknown cluster succeeded")
	}
}

func TestReplicate(t *testing.T) {
	cfg := testConfig(t)
	file := filepath.Join(t.TempDir(), "a.bin")
	if err := os.WriteFile(file, []byte("abc"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	runOK(t, cfg, "clip", "put", file)

	if out := runOK(t, cfg, "replicate", "--dry-run", "primary"); !strings.Contains(out, "would copy") {
		t.Errorf("replicate --dry-run = %q", out)
	}
	if out := runOK(t, cfg, "replicate", "primary"); !strings.Contains(out, "copied") {
		t.Errorf("replicate = %q", out)
	}
	if err := runErr(t, cfg, "replicate", "mirror"); err == nil {
		t.Error("replicate of a cluster without a replica succeeded")
	}
}
