package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/czhmisaka/Html2Img/internal/pipeline"
	"github.com/czhmisaka/Html2Img/internal/render"
	"github.com/spf13/cobra"
)

var (
	renderOpts    renderFlags
	renderOut     string
	renderTimeout time.Duration
)

// renderCmd represents the render command
var renderCmd = &cobra.Command{
	Use:   "render [file|-]",
	Short: "Render an HTML file to an image",
	Long: `Render reads HTML markup from a file (or stdin) and writes an image.

Without --height the viewport is sized to the content: the page is loaded,
its height measured, and the viewport resized before capture.

Example:
  html2img render page.html -o page.png
  html2img render page.html -o page.jpg --type jpeg --quality 90 --width 800
  cat page.html | html2img render - -o - --sanitize > page.png`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderOpts.register(renderCmd)
	renderCmd.Flags().StringVarP(&renderOut, "output", "o", "", "output path, - for stdout (default screenshot.<ext>)")
	renderCmd.Flags().DurationVar(&renderTimeout, "timeout", 2*time.Minute, "overall render timeout")
}

func runRender(cmd *cobra.Command, args []string) error {
	markup, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if renderOpts.noCache {
		cfg.Cache.Enabled = false
	}

	format, err := render.ParseFormat(renderOpts.format)
	if err != nil {
		return err
	}
	out := renderOut
	if out == "" {
		out = "screenshot." + format.Ext()
	}

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	req := pipeline.Request{
		Markup:   markup,
		Options:  renderOpts.options(cmd),
		Sanitize: renderOpts.sanitizeOptions(),
	}

	res, err := p.RenderCached(ctx, req)
	if err != nil {
		return fmt.Errorf("render failed: %w", err)
	}
	logger.Debug().
		Str("key", res.Key).
		Bool("cache_hit", res.Hit).
		Int("bytes", len(res.Result.Data)).
		Msg("rendered")

	if err := writeOutput(cmd, out, res.Result.Data); err != nil {
		return err
	}
	if out != "-" {
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Wrote %s (%d bytes)\n", out, len(res.Result.Data))
	}
	return nil
}
