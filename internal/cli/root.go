package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/czhmisaka/Html2Img/internal/cache"
	"github.com/czhmisaka/Html2Img/internal/logging"
	"github.com/czhmisaka/Html2Img/internal/model"
	"github.com/czhmisaka/Html2Img/internal/pipeline"
	"github.com/czhmisaka/Html2Img/internal/render"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is overridden at build time with -ldflags "-X ...cli.Version=..."
var Version = "dev"

var (
	cfgFile   string
	verbose   bool
	configErr error
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "html2img",
	Short: "html2img - render HTML markup to PNG/JPEG images",
	Long: `html2img renders HTML markup to images with headless Chrome.

By default the viewport height follows the content, so a page is captured
in full without a fixed height. Rendered images are cached on disk for 24h
under a key derived from the markup and the render options.

Run it once from the command line, in batches over a directory, or as an
HTTP service.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "html2img %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.html2img/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	configErr = nil
	model.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if path, err := model.DefaultConfigPath(); err == nil {
		viper.AddConfigPath(filepath.Dir(path))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// HTML2IMG_CACHE_DIR, HTML2IMG_SERVER_ADDR, ...
	model.ConfigureEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			configErr = fmt.Errorf("read config: %w", err)
		}
	}
}

// loadConfig decodes the effective configuration and builds the logger.
func loadConfig() (*model.Config, zerolog.Logger, error) {
	if configErr != nil {
		return nil, zerolog.Nop(), configErr
	}

	cfg, err := model.LoadConfig(viper.GetViper())
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, rootCmd.ErrOrStderr())
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Debug().Str("file", used).Msg("using config file")
	}
	return cfg, logger, nil
}

// newEngine builds the Chrome-backed render engine described by cfg.
func newEngine(cfg *model.Config, logger zerolog.Logger) *render.Engine {
	launcher := render.NewChromeLauncher(render.ChromeConfig{
		ExecPath:  cfg.Browser.ExecPath,
		Headless:  cfg.Browser.Headless,
		NoSandbox: cfg.Browser.NoSandbox,
		Proxy: render.ProxySettings{
			HTTPProxy:  cfg.Browser.HTTPProxy,
			HTTPSProxy: cfg.Browser.HTTPSProxy,
			NoProxy:    cfg.Browser.NoProxy,
		},
		IdleConnections: cfg.Render.IdleConnections,
		IdleWindow:      cfg.Render.IdleWindow,
	}, logger)

	return render.NewEngine(launcher,
		render.WithMaxSessions(cfg.Browser.MaxSessions),
		render.WithLogger(logger),
	)
}

// newStore opens the on-disk cache, fronted by memory when configured.
func newStore(cfg *model.Config) (*cache.LayeredStore, error) {
	disk, err := cache.NewFileStore(cfg.Cache.Dir)
	if err != nil {
		return nil, err
	}
	return cache.NewLayeredStore(disk, cfg.Cache.MemoryTTL), nil
}

// newPipeline wires engine, cache and options into a render pipeline.
func newPipeline(cfg *model.Config, logger zerolog.Logger) (*pipeline.Pipeline, error) {
	opts := []pipeline.Option{
		pipeline.WithSingleFlight(cfg.Server.SingleFlight),
		pipeline.WithTimeout(cfg.Render.Timeout),
		pipeline.WithLogger(logger),
	}
	if cfg.Cache.Enabled {
		store, err := newStore(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithStore(store))
	}
	return pipeline.NewPipeline(newEngine(cfg, logger), opts...), nil
}
