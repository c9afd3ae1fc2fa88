package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/czhmisaka/Html2Img/internal/render"
	"github.com/czhmisaka/Html2Img/internal/sanitize"
	"github.com/spf13/cobra"
)

// renderFlags holds the image options shared by render and batch.
type renderFlags struct {
	width     int
	height    int
	scale     float64
	format    string
	quality   int
	fullPage  bool
	noCache   bool
	sanitize  bool
	noHandler bool
	dropTags  []string
}

func (f *renderFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVar(&f.width, "width", 0, "viewport width in CSS pixels (default 1920 for auto height, else 1200)")
	flags.IntVar(&f.height, "height", 0, "viewport height; 0 sizes the viewport to the content")
	flags.Float64Var(&f.scale, "scale", 0, "device scale factor (default 1)")
	flags.StringVar(&f.format, "type", "png", "image format: png or jpeg")
	flags.IntVar(&f.quality, "quality", 0, "jpeg quality 1-100 (default 80)")
	flags.BoolVar(&f.fullPage, "full-page", true, "capture the full page rather than the viewport")
	flags.BoolVar(&f.noCache, "no-cache", false, "bypass the image cache")
	flags.BoolVar(&f.sanitize, "sanitize", false, "strip <script> elements before rendering")
	flags.BoolVar(&f.noHandler, "remove-event-handlers", false, "strip on* attributes before rendering (implies --sanitize)")
	flags.StringSliceVar(&f.dropTags, "remove-tags", nil, "selectors to remove before rendering (implies --sanitize)")
}

func (f *renderFlags) options(cmd *cobra.Command) render.Options {
	opts := render.Options{
		Width:   f.width,
		Height:  f.height,
		Scale:   f.scale,
		Format:  render.Format(f.format),
		Quality: f.quality,
	}
	if cmd.Flags().Changed("full-page") {
		opts.FullPage = render.Bool(f.fullPage)
	}
	return opts
}

// sanitizeOptions returns nil when no sanitizing was asked for.
func (f *renderFlags) sanitizeOptions() *sanitize.Options {
	opts := sanitize.Options{RemoveEventHandlers: f.noHandler, RemoveTags: f.dropTags}
	if !f.sanitize && opts.IsZero() {
		return nil
	}
	return &opts
}

// readInput reads markup from the named file, or stdin for "-" or no argument.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("read markup: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("no markup to render")
	}
	return string(data), nil
}

// writeOutput writes data to path, or stdout for "-".
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
