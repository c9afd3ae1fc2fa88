package cli

import (
	"github.com/czhmisaka/Html2Img/internal/sanitize"
	"github.com/spf13/cobra"
)

var (
	sanitizeOut      string
	sanitizeHandlers bool
	sanitizeTags     []string
)

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize [file|-]",
	Short: "Strip scripts and optional elements/attributes from HTML",
	Long: `Sanitize removes every <script> element and, optionally, on* event
handler attributes and any elements matching --remove-tags selectors.

Example:
  html2img sanitize page.html --remove-event-handlers
  html2img sanitize - --remove-tags iframe,.ads -o clean.html < page.html`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		markup, err := readInput(cmd, args)
		if err != nil {
			return err
		}

		clean, err := sanitize.Sanitize(markup, sanitize.Options{
			RemoveEventHandlers: sanitizeHandlers,
			RemoveTags:          sanitizeTags,
		})
		if err != nil {
			return err
		}
		return writeOutput(cmd, sanitizeOut, []byte(clean))
	},
}

func init() {
	rootCmd.AddCommand(sanitizeCmd)

	sanitizeCmd.Flags().StringVarP(&sanitizeOut, "output", "o", "-", "output path, - for stdout")
	sanitizeCmd.Flags().BoolVar(&sanitizeHandlers, "remove-event-handlers", false, "strip on* attributes")
	sanitizeCmd.Flags().StringSliceVar(&sanitizeTags, "remove-tags", nil, "selectors of elements to remove")
}
