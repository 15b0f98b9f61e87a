// Package config loads the run configuration of a visual regression suite.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/visreg/visreg/screenshot"
)

// DefaultFileName is read when no configuration is given explicitly
const DefaultFileName = "visreg.json"

// Maximum size of a configuration document fetched over HTTP
const maxConfigSize = 1 << 20

// Global validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
}

// Config captures the knobs of a suite run
type Config struct {
	// Capabilities are the desired capabilities the session is started with
	Capabilities map[string]any `json:"capabilities"`
	Specs        []string       `json:"specs"`

	BaselineDir string `json:"baselineDir" validate:"required"`
	ScreenDir   string `json:"screenDir" validate:"required"`
	DiffDir     string `json:"diffDir" validate:"required"`

	MisMatchTolerance float64                  `json:"misMatchTolerance" validate:"gte=0,lte=100"`
	Widths            []int                    `json:"widths,omitempty" validate:"omitempty,dive,gt=0"`
	Orientations      []screenshot.Orientation `json:"orientations,omitempty" validate:"omitempty,dive,oneof=landscape portrait"`
	ViewportHeight    int                      `json:"viewportHeight" validate:"gt=0"`

	Browser BrowserConfig `json:"browser"`
	Logging LoggingConfig `json:"logging"`

	// Source indicates where the configuration originated
	Source string `json:"-"`
}

// BrowserConfig controls how the browser session is obtained
type BrowserConfig struct {
	RemoteURL      string `json:"remoteURL,omitempty" validate:"omitempty,url"`
	ExecPath       string `json:"execPath,omitempty"`
	Headless       bool   `json:"headless"`
	TimeoutSeconds int    `json:"timeoutSeconds" validate:"gt=0"`
}

// LoggingConfig defines log verbosity and formatting
type LoggingConfig struct {
	Level  string `json:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `json:"format" validate:"omitempty,oneof=text console json"`
}

// Default returns the configuration used when no overrides are supplied
func Default() Config {
	return Config{
		Capabilities:      map[string]any{"browserName": "chrome"},
		Specs:             []string{},
		BaselineDir:       "screenshots/reference",
		ScreenDir:         "screenshots/screen",
		DiffDir:           "screenshots/diff",
		MisMatchTolerance: 0.01,
		ViewportHeight:    768,
		Browser: BrowserConfig{
			Headless:       true,
			TimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Source: "<defaults>",
	}
}

// Timeout returns the per-command browser timeout
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Browser.TimeoutSeconds) * time.Second
}

// SweepOptions returns capture options carrying the configured sweeps and
// tolerance. Sweeps that are not configured stay unset.
func (c Config) SweepOptions() *screenshot.Options {
	tolerance := c.MisMatchTolerance
	opts := &screenshot.Options{MisMatchTolerance: &tolerance}
	if len(c.Widths) > 0 {
		opts.Widths = append([]int(nil), c.Widths...)
	}
	if len(c.Orientations) > 0 {
		opts.Orientations = append([]screenshot.Orientation(nil), c.Orientations...)
	}
	return opts
}

// Load reads configuration from a file path or URL. When input is empty the
// loader tries ./visreg.json and tolerates a missing file.
func Load(input string) (Config, error) {
	cfg := Default()

	candidate := strings.TrimSpace(input)
	explicit := candidate != ""
	if !explicit {
		candidate = DefaultFileName
	}

	var raw []byte
	var err error
	if isURL(candidate) {
		raw, err = fetchFromURL(candidate)
		if err != nil {
			return cfg, fmt.Errorf("failed to fetch config from URL: %w", err)
		}
	} else {
		raw, err = os.ReadFile(candidate)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !explicit {
				return cfg, nil
			}
			return cfg, fmt.Errorf("failed to read config file %q: %w", candidate, err)
		}
	}

	// capabilities are taken verbatim, never merged into the defaults
	defaults := cfg.Capabilities
	cfg.Capabilities = nil
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if cfg.Capabilities == nil {
		cfg.Capabilities = defaults
	}
	cfg.Source = candidate

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate ensures essential configuration values are present and sensible
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, fieldError := range validationErrors {
				field := fieldError.Namespace()
				if i := strings.IndexByte(field, '.'); i >= 0 {
					field = field[i+1:]
				}

				switch fieldError.Tag() {
				case "required":
					return fmt.Errorf("missing required field: %s", field)
				case "gt":
					return fmt.Errorf("field %s must be greater than %s", field, fieldError.Param())
				case "gte", "lte":
					return fmt.Errorf("field %s must be between 0 and 100: %v", field, fieldError.Value())
				case "oneof":
					return fmt.Errorf("invalid value for field %s, must be one of: %s", field, fieldError.Param())
				case "url":
					return fmt.Errorf("invalid URL format for field %s: %s", field, fieldError.Value())
				default:
					return fmt.Errorf("validation error for field %s: %s", field, fieldError.Tag())
				}
			}
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// isURL checks if the input string is a valid URL
func isURL(input string) bool {
	u, err := url.Parse(input)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// fetchFromURL fetches content from a URL with proper timeout and headers
func fetchFromURL(urlStr string) ([]byte, error) {
	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	req, err := http.NewRequest("GET", urlStr, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", "visreg/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxConfigSize))
}
