package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/czhmisaka/Html2Img/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve exposes rendering over HTTP:

  POST /api/screenshot   {html, options, sanitize?, cache?} -> image
  POST /api/cache        {html, options, sanitize?} -> {id, url, cached}
  POST /api/sanitize     {html, options} -> {result}
  GET  /cache/:id        cached image by id
  GET  /health

Example:
  html2img serve --addr :15600`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		p, err := newPipeline(cfg, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info().
			Bool("cache", cfg.Cache.Enabled).
			Str("cache_dir", cfg.Cache.Dir).
			Int("max_sessions", cfg.Browser.MaxSessions).
			Msg("starting html2img server")

		return server.New(p, cfg.Server, logger).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":15600", "listen address")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}
