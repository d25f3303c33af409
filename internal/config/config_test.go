package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/histeq"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "histeq.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := Default()
	if *cfg != *want {
		t.Errorf("Load() = %+v, want %+v", cfg, want)
	}
	if cfg.Device.Index != -1 {
		t.Errorf("Device.Index = %d, want -1 (automatic)", cfg.Device.Index)
	}
	if cfg.Policy() != histeq.DegenerateIdentity {
		t.Errorf("Policy() = %v, want identity", cfg.Policy())
	}
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
[device]
backend = "gpu"
platform = 0
index = 1
fence_timeout = "250ms"

[kernel]
scan_width = 64
degenerate = "saturate"

[metrics]
addr = ":9100"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device.Backend != BackendGPU || cfg.Device.Index != 1 {
		t.Errorf("Device = %+v", cfg.Device)
	}
	if time.Duration(cfg.Device.FenceTimeout) != 250*time.Millisecond {
		t.Errorf("FenceTimeout = %v, want 250ms", cfg.Device.FenceTimeout)
	}
	if cfg.Kernel.ScanWidth != 64 || cfg.Policy() != histeq.DegenerateSaturate {
		t.Errorf("Kernel = %+v", cfg.Kernel)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q", cfg.Metrics.Addr)
	}
	// Untouched sections keep their defaults.
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, `
[device]
backend = "gpu"
workers = 2
`)
	t.Setenv("HISTEQ_BACKEND", "cpu")
	t.Setenv("HISTEQ_SCAN_WIDTH", "32")
	t.Setenv("HISTEQ_FENCE_TIMEOUT", "1s")
	t.Setenv("HISTEQ_VERBOSE", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device.Backend != BackendCPU {
		t.Errorf("Backend = %q, want cpu", cfg.Device.Backend)
	}
	if cfg.Device.Workers != 2 {
		t.Errorf("Workers = %d, want 2 from file", cfg.Device.Workers)
	}
	if cfg.Kernel.ScanWidth != 32 {
		t.Errorf("ScanWidth = %d, want 32", cfg.Kernel.ScanWidth)
	}
	if time.Duration(cfg.Device.FenceTimeout) != time.Second {
		t.Errorf("FenceTimeout = %v, want 1s", cfg.Device.FenceTimeout)
	}
	if !cfg.Logging.Verbose {
		t.Error("Verbose = false, want true")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     map[string]string
		wantErr string
	}{
		{name: "unknown backend", file: "[device]\nbackend = \"opencl\"\n", wantErr: "backend"},
		{name: "unknown field", file: "[device]\nqueue = 3\n", wantErr: "histeq.toml"},
		{name: "syntax", file: "[device\n", wantErr: "histeq.toml"},
		{name: "bad policy", file: "[kernel]\ndegenerate = \"black\"\n", wantErr: "degenerate policy"},
		{name: "negative workers", env: map[string]string{"HISTEQ_WORKERS": "-1"}, wantErr: "workers"},
		{name: "bad duration", env: map[string]string{"HISTEQ_FENCE_TIMEOUT": "soon"}, wantErr: "environment"},
		{name: "negative platform", env: map[string]string{"HISTEQ_PLATFORM": "-2"}, wantErr: "platform"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() error = nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("Load() error = nil for a missing file")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Kernel.ScanWidth = 128
	cfg.Device.FenceTimeout = Duration(2 * time.Second)

	data, err := cfg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `fence_timeout = '2s'`) && !strings.Contains(string(data), `fence_timeout = "2s"`) {
		t.Errorf("Marshal() lacks fence_timeout:\n%s", data)
	}

	got, err := Load(writeFile(t, string(data)))
	if err != nil {
		t.Fatalf("Load(marshalled) error = %v", err)
	}
	if *got != *cfg {
		t.Errorf("round trip = %+v, want %+v", got, cfg)
	}
}
