package config

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/visreg/visreg/screenshot"
)

const testConfigJSON = `{
  "capabilities": {"browserName": "chrome", "goog:chromeOptions": {"args": ["--headless"]}},
  "specs": ["specs/home.spec.js", "specs/nav.spec.js"],
  "baselineDir": "vr/reference",
  "screenDir": "vr/screen",
  "diffDir": "vr/diff",
  "misMatchTolerance": 0.5,
  "widths": [320, 1024],
  "orientations": ["landscape"],
  "browser": {"headless": false, "timeoutSeconds": 10},
  "logging": {"level": "debug", "format": "json"}
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "visreg.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config must validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, testConfigJSON)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expectedCaps := map[string]any{
		"browserName":        "chrome",
		"goog:chromeOptions": map[string]any{"args": []any{"--headless"}},
	}
	if !reflect.DeepEqual(cfg.Capabilities, expectedCaps) {
		t.Errorf("Expected capabilities %v, got %v", expectedCaps, cfg.Capabilities)
	}
	if len(cfg.Specs) != 2 || cfg.BaselineDir != "vr/reference" {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if cfg.ViewportHeight != 768 {
		t.Errorf("Unset fields must keep defaults, got viewportHeight %d", cfg.ViewportHeight)
	}
	if cfg.Browser.Headless {
		t.Errorf("Expected headless to be overridden")
	}
	if cfg.Timeout().Seconds() != 10 {
		t.Errorf("Expected 10s timeout, got %v", cfg.Timeout())
	}
	if cfg.Source != path {
		t.Errorf("Expected source %s, got %s", path, cfg.Source)
	}
}

func TestLoadCapabilitiesVerbatim(t *testing.T) {
	path := writeConfig(t, `{"capabilities": {"platformName": "linux"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !reflect.DeepEqual(cfg.Capabilities, map[string]any{"platformName": "linux"}) {
		t.Errorf("Capabilities must not be merged with defaults, got %v", cfg.Capabilities)
	}
}

func TestLoadMissingDefaultFile(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Missing default file must be tolerated: %v", err)
	}
	if cfg.Source != "<defaults>" {
		t.Errorf("Expected defaults, got %s", cfg.Source)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		errorMsg string
	}{
		{"Invalid JSON", `{"specs": [}`, "failed to parse config JSON"},
		{"Tolerance too high", `{"misMatchTolerance": 150}`, "misMatchTolerance"},
		{"Empty baseline dir", `{"baselineDir": ""}`, "missing required field: baselineDir"},
		{"Bad orientation", `{"orientations": ["diagonal"]}`, "must be one of"},
		{"Zero width", `{"widths": [0]}`, "widths[0]"},
		{"Bad remote URL", `{"browser": {"remoteURL": "not a url", "timeoutSeconds": 5}}`, "remoteURL"},
		{"Bad log level", `{"logging": {"level": "loud"}}`, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatalf("Expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing %q, got %v", tt.errorMsg, err)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Errorf("Expected error for an explicit missing file")
	}
}

func TestLoadFromURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testConfigJSON))
	}))
	defer server.Close()

	cfg, err := Load(server.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.DiffDir != "vr/diff" {
		t.Errorf("Expected diffDir from URL, got %s", cfg.DiffDir)
	}
}

func TestLoadFromURLError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if _, err := Load(server.URL); err == nil {
		t.Errorf("Expected error for 404 response")
	}
}

func TestSweepOptions(t *testing.T) {
	cfg := Default()
	opts := cfg.SweepOptions()
	if opts.Widths != nil || opts.Orientations != nil {
		t.Errorf("Unconfigured sweeps must stay unset, got %+v", opts)
	}
	if opts.MisMatchTolerance == nil || *opts.MisMatchTolerance != 0.01 {
		t.Errorf("Expected default tolerance, got %v", opts.MisMatchTolerance)
	}

	cfg.Widths = []int{320}
	cfg.Orientations = []screenshot.Orientation{screenshot.OrientationPortrait}
	opts = cfg.SweepOptions()
	if len(opts.Widths) != 1 || len(opts.Orientations) != 1 {
		t.Errorf("Expected configured sweeps, got %+v", opts)
	}
	opts.Widths[0] = 1
	if cfg.Widths[0] != 320 {
		t.Errorf("Sweep options must not alias the config")
	}
	if _, err := screenshot.Resolve(screenshot.Request{Type: screenshot.TypeDocument, Options: opts}); err != nil {
		t.Errorf("Sweep options must resolve: %v", err)
	}
}
