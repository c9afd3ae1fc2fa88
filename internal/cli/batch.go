package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/czhmisaka/Html2Img/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	batchOpts    renderFlags
	outputDir    string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <dir|list-file>",
	Short: "Render many HTML files in parallel",
	Long: `Batch renders every *.html/*.htm file in a directory, or every path
listed in a file (one per line, # for comments), through the cache.
Each image is written to the output directory as <name>.<ext>.

Example:
  html2img batch ./pages --output-dir ./images
  html2img batch pages.txt --concurrency 2 --type jpeg`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchOpts.register(batchCmd)
	batchCmd.Flags().Int("concurrency", runtime.NumCPU(), "number of concurrent workers")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./html2img-images", "output directory for images")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "total timeout for batch processing")

	_ = viper.BindPFlag("concurrency.workers", batchCmd.Flags().Lookup("concurrency"))
}

func runBatch(cmd *cobra.Command, args []string) error {
	input := args[0]

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if batchOpts.noCache {
		cfg.Cache.Enabled = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "\n")
	fmt.Fprintf(stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(stderr, "  html2img Batch Rendering\n")
	fmt.Fprintf(stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(stderr, "\n")
	fmt.Fprintf(stderr, "  Input:        %s\n", input)
	fmt.Fprintf(stderr, "  Workers:      %d\n", cfg.Concurrency.Workers)
	fmt.Fprintf(stderr, "  Sessions:     %d\n", cfg.Browser.MaxSessions)
	fmt.Fprintf(stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(stderr, "  Cache:        %v\n", cfg.Cache.Enabled)
	fmt.Fprintf(stderr, "\n")

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}

	processor := worker.NewBatchProcessor(p, cfg.Concurrency.Workers, outputDir, batchOpts.options(cmd),
		worker.WithSanitize(batchOpts.sanitizeOptions()),
		worker.WithLimiter(worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)),
		worker.WithBatchLogger(logger),
	)

	results, err := processor.ProcessPath(ctx, input)
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}

	successCount, failureCount, hits := 0, 0, 0
	for _, result := range results {
		if result.Error != nil {
			failureCount++
			fmt.Fprintf(stderr, "✗ %s: %v\n", result.Source, result.Error)
			continue
		}
		successCount++
		if result.Hit {
			hits++
		}
		fmt.Fprintf(stderr, "✓ %s -> %s\n", result.Source, result.Output)
	}

	fmt.Fprintf(stderr, "\n")
	fmt.Fprintf(stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(stderr, "  Batch Complete\n")
	fmt.Fprintf(stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(stderr, "\n")
	fmt.Fprintf(stderr, "  Total:       %d files\n", len(results))
	fmt.Fprintf(stderr, "  Success:     %d (%d from cache)\n", successCount, hits)
	fmt.Fprintf(stderr, "  Failures:    %d\n", failureCount)
	fmt.Fprintf(stderr, "  Output:      %s\n", outputDir)
	fmt.Fprintf(stderr, "\n")

	if failureCount > 0 {
		return fmt.Errorf("%d of %d files failed", failureCount, len(results))
	}
	return nil
}
