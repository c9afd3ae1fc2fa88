package cli

import (
	"fmt"
	"time"

	"github.com/czhmisaka/Html2Img/internal/cache"
	"github.com/czhmisaka/Html2Img/internal/model"
	"github.com/spf13/cobra"
)

var cacheOut string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the image cache",
	Long: `Inspect rendered images in the cache directory (cache.dir).

Entries expire 24h after they were written; expired entries are reported
as missing and replaced on the next render.`,
}

var cachePathCmd = &cobra.Command{
	Use:   "path <id>",
	Short: "Print the file path of a cached image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDiskCache()
		if err != nil {
			return err
		}

		id := args[0]
		if !cache.ValidKey(id) {
			return model.Invalid("id", fmt.Sprintf("%q is not a cache id", id))
		}

		remaining, ok := store.Remaining(id)
		if !ok {
			return fmt.Errorf("cache entry %s: %w", id, model.ErrNotFound)
		}

		fmt.Fprintln(cmd.OutOrStdout(), store.Path(id))
		if verbose {
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %s\n", remaining.Round(time.Second))
		}
		return nil
	},
}

var cacheGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Copy a cached image out of the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDiskCache()
		if err != nil {
			return err
		}

		data, err := store.Get(args[0])
		if err != nil {
			return err
		}
		return writeOutput(cmd, cacheOut, data)
	},
}

func openDiskCache() (*cache.FileStore, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cache.NewFileStore(cfg.Cache.Dir)
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cachePathCmd)
	cacheCmd.AddCommand(cacheGetCmd)

	cacheGetCmd.Flags().StringVarP(&cacheOut, "output", "o", "-", "output path, - for stdout")
}
