package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/visreg/visreg/cdp"
	"github.com/visreg/visreg/compare"
	"github.com/visreg/visreg/config"
	"github.com/visreg/visreg/launcher"
	"github.com/visreg/visreg/logging"
	"github.com/visreg/visreg/screenshot"
)

var rootCmd = &cobra.Command{
	Use:   "visreg",
	Short: "Visual regression checks for web pages",
	Long: `A visual regression runner that drives a browser and can:
- Capture documents, elements and viewports across widths and orientations
- Compare every capture against a stored baseline
- List the baselines kept on disk`,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Capture a page and compare it against its baseline",
	Long: `Open a URL in the browser, capture it and compare every capture against its baseline.

Capture types:
1. document: the full scrollable page (default)
2. element: the area covering every element matched by --selector
3. viewport: the visible part of the page

The first capture of a name becomes its baseline. Captures outside the mismatch
tolerance leave the screenshot and a diff image behind and make the command fail.

--exclude accepts either a CSS selector or a rectangle written as x,y,width,height.
Matches of a selector are painted over before capturing. Rectangles are in
screenshot image pixels, so scale them by the device pixel ratio on HiDPI screens.`,
	RunE: runCheck,
}

var baselinesCmd = &cobra.Command{
	Use:   "baselines",
	Short: "List stored baselines",
	Long: `List the baselines kept in the configured baseline directory together with
their size and SHA256 hash.`,
	RunE: listBaselines,
}

// Shared flags
var configInput string

// Check command flags
var (
	pageURL       string
	captureType   string
	captureName   string
	testTitle     string
	selectors     []string
	widths        []int
	orientations  []string
	hideInput     []string
	removeInput   []string
	excludeInput  []string
	tolerance     float64
	viewportPause int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configInput, "config", "", "Config file path or URL (default ./visreg.json)")

	// Check command flags
	checkCmd.Flags().StringVar(&pageURL, "url", "", "URL of the page to capture (required)")
	checkCmd.Flags().StringVar(&captureType, "type", string(screenshot.TypeDocument), "Capture type: document, element or viewport")
	checkCmd.Flags().StringVar(&captureName, "name", "", "Name of the capture, part of the baseline name")
	checkCmd.Flags().StringVar(&testTitle, "test", "visreg check", "Test title recorded with every capture")
	checkCmd.Flags().StringSliceVar(&selectors, "selector", nil, "CSS selectors of an element capture")
	checkCmd.Flags().IntSliceVar(&widths, "widths", nil, "Viewport widths to sweep (overrides config)")
	checkCmd.Flags().StringSliceVar(&orientations, "orientations", nil, "Orientations to sweep: landscape, portrait (overrides config)")
	checkCmd.Flags().StringSliceVar(&hideInput, "hide", nil, "Selectors made invisible before capturing")
	checkCmd.Flags().StringSliceVar(&removeInput, "remove", nil, "Selectors taken out of the layout before capturing")
	checkCmd.Flags().StringArrayVar(&excludeInput, "exclude", nil, "Region ignored by the comparison (selector or x,y,width,height)")
	checkCmd.Flags().Float64Var(&tolerance, "tolerance", 0, "Mismatch tolerance in percent (overrides config)")
	checkCmd.Flags().IntVar(&viewportPause, "pause", 0, "Milliseconds to wait after a viewport change")
	_ = checkCmd.MarkFlagRequired("url")

	// Add commands to root
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(baselinesCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fmt.Printf("📸 Running visual regression check...\n\n")

	// Load configuration
	fmt.Printf("⚙️  Loading configuration...\n")
	cfg, err := config.Load(configInput)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Printf("✅ Configuration loaded from %s\n", cfg.Source)

	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	req, err := buildRequest(cmd, cfg)
	if err != nil {
		return err
	}
	if _, err := screenshot.Resolve(req); err != nil {
		return fmt.Errorf("invalid capture request: %w", err)
	}

	// Start the browser
	fmt.Printf("\n🌐 Starting browser...\n")
	driver, err := cdp.New(ctx, cdp.Options{
		RemoteURL:      cfg.Browser.RemoteURL,
		ExecPath:       cfg.Browser.ExecPath,
		Headless:       cfg.Browser.Headless,
		ViewportHeight: cfg.ViewportHeight,
		Timeout:        cfg.Timeout(),
		Capabilities:   cfg.Capabilities,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer driver.Close()
	driver.SetActiveTest(screenshot.Test{Title: testTitle, Parent: "visreg", File: cfg.Source})

	comparator := compare.New(compare.Options{
		BaselineDir:       cfg.BaselineDir,
		ScreenDir:         cfg.ScreenDir,
		DiffDir:           cfg.DiffDir,
		MisMatchTolerance: cfg.MisMatchTolerance,
		Logger:            logger,
	})
	runner := launcher.New(driver, comparator, launcher.WithLogger(logger))

	if err := runner.OnSuiteStart(ctx, launcher.SessionInfo{Specs: cfg.Specs}); err != nil {
		_ = runner.OnSuiteEnd(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to start suite: %w", err)
	}
	session := runner.Session()
	fmt.Printf("✅ Browser ready\n")
	fmt.Printf("   - Browser: %s %s\n", session.Browser.Name, session.Browser.Version)

	// Navigate and capture
	fmt.Printf("\n🧭 Opening %s...\n", pageURL)
	if err := driver.Navigate(ctx, pageURL); err != nil {
		_ = runner.OnSuiteEnd(context.WithoutCancel(ctx))
		return err
	}

	fmt.Printf("\n🔍 Capturing %s...\n", req.Type)
	results, captureErr := runner.Capture(ctx, req)
	endErr := runner.OnSuiteEnd(context.WithoutCancel(ctx))

	// Display results
	fmt.Printf("\n📊 Comparison Results:\n")
	failed := printResults(req, results)

	if captureErr != nil {
		return captureErr
	}
	if endErr != nil {
		return endErr
	}
	if failed > 0 {
		fmt.Printf("\n❌ %d of %d captures differ from their baseline\n", failed, len(results))
		fmt.Printf("   - Screens: %s\n", cfg.ScreenDir)
		fmt.Printf("   - Diffs: %s\n", cfg.DiffDir)
		return fmt.Errorf("%d captures outside mismatch tolerance", failed)
	}

	fmt.Printf("\n🎉 All captures match their baselines!\n")
	return nil
}

// printResults writes one line per sweep target and returns how many
// targets are not within tolerance
func printResults(req screenshot.Request, results []*screenshot.Result) int {
	targets := screenshot.Targets(req.Options)
	failed := 0
	for i, result := range results {
		label := targetLabel(targets, i)
		switch {
		case result == nil:
			fmt.Printf("   ⚠️  %s: no result\n", label)
		case result.IsWithinMisMatchTolerance:
			fmt.Printf("   ✅ %s: %.2f%% mismatch\n", label, result.MisMatchPercentage)
		default:
			failed++
			fmt.Printf("   ❌ %s: %.2f%% mismatch (same dimensions: %t)\n", label, result.MisMatchPercentage, result.IsSameDimensions)
		}
	}
	return failed
}

func targetLabel(targets []screenshot.Target, index int) string {
	if index >= len(targets) {
		return fmt.Sprintf("#%d", index+1)
	}
	t := targets[index]
	var parts []string
	if t.Width > 0 {
		parts = append(parts, fmt.Sprintf("%dpx", t.Width))
	}
	if t.Orientation != "" {
		parts = append(parts, string(t.Orientation))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("#%d", index+1)
	}
	return strings.Join(parts, " ")
}

// buildRequest combines the configured sweeps with the command flags
func buildRequest(cmd *cobra.Command, cfg config.Config) (screenshot.Request, error) {
	opts := cfg.SweepOptions()
	flags := cmd.Flags()

	if flags.Changed("widths") {
		opts.Widths = widths
	}
	if flags.Changed("orientations") {
		opts.Orientations = make([]screenshot.Orientation, 0, len(orientations))
		for _, o := range orientations {
			opts.Orientations = append(opts.Orientations, screenshot.Orientation(strings.ToLower(strings.TrimSpace(o))))
		}
	}
	if flags.Changed("hide") {
		opts.Hide = hideInput
	}
	if flags.Changed("remove") {
		opts.Remove = removeInput
	}
	if flags.Changed("tolerance") {
		opts.MisMatchTolerance = &tolerance
	}
	if flags.Changed("pause") {
		opts.ViewportChangePause = &viewportPause
	}
	if flags.Changed("exclude") {
		opts.Exclude = make([]screenshot.Region, 0, len(excludeInput))
		for _, input := range excludeInput {
			region, err := parseRegion(input)
			if err != nil {
				return screenshot.Request{}, err
			}
			opts.Exclude = append(opts.Exclude, region)
		}
	}

	req := screenshot.Request{
		Type:    screenshot.Type(strings.ToLower(captureType)),
		Name:    captureName,
		Options: opts,
	}
	if len(selectors) > 0 {
		req.Element = selectors
	}
	return req, nil
}

// parseRegion reads "x,y,width,height" as a rectangle and anything else as a selector
func parseRegion(input string) (screenshot.Region, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return screenshot.Region{}, errors.New("empty exclude region")
	}

	parts := strings.Split(input, ",")
	if len(parts) != 4 {
		return screenshot.Region{Selector: input}, nil
	}

	values := make([]int, 4)
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			// "a, b, c, d" is a selector group, not a rectangle
			return screenshot.Region{Selector: input}, nil
		}
		if v < 0 {
			return screenshot.Region{}, fmt.Errorf("invalid exclude region %q: negative value", input)
		}
		values[i] = v
	}

	return screenshot.Region{X: values[0], Y: values[1], Width: values[2], Height: values[3]}, nil
}

// safeHashPreview returns a preview of the hash, handling short hashes gracefully
func safeHashPreview(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:16] + "..."
}

func listBaselines(cmd *cobra.Command, args []string) error {
	fmt.Printf("🗂️  Listing baselines...\n\n")

	cfg, err := config.Load(configInput)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store := compare.NewStore(cfg.BaselineDir)
	fmt.Printf("📁 Baseline directory: %s\n", store.Dir())

	start := time.Now()
	entries, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list baselines: %w", err)
	}

	if len(entries) == 0 {
		fmt.Printf("\nℹ️  No baselines stored yet\n")
		return nil
	}

	fmt.Printf("\n📂 Baselines:\n")
	broken := 0
	for _, entry := range entries {
		if entry.Error != "" {
			broken++
			fmt.Printf("   ❌ %s (Error: %s)\n", entry.Name, entry.Error)
		} else {
			fmt.Printf("   ✅ %s (%d bytes) -> %s\n", entry.Name, entry.Size, safeHashPreview(entry.SHA256))
		}
	}

	fmt.Printf("\n📊 Summary:\n")
	fmt.Printf("   - Baselines: %d\n", len(entries))
	fmt.Printf("   - Unreadable: %d\n", broken)
	fmt.Printf("   - Scanned in: %s\n", time.Since(start).Round(time.Millisecond))

	if broken > 0 {
		return fmt.Errorf("%d baselines could not be read", broken)
	}
	return nil
}
