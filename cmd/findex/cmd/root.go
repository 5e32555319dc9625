// Package cmd implements the findex CLI.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/findexd/findex/internal/config"
	"github.com/findexd/findex/internal/engine"
	"github.com/findexd/findex/internal/logging"
	"github.com/findexd/findex/internal/ui"
)

var (
	flagConfig   string
	flagDataRoot string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "findex",
	Short: "Local file indexing and hybrid search",
	Long: `findex indexes local files (documents, text, code, images, audio,
video) and serves hybrid semantic + lexical search over them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagDataRoot, "data-root", "", "override data root directory")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig builds the effective configuration from flags and file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDataRoot != "" {
		cfg.DataRoot = flagDataRoot
	}
	if flagVerbose {
		cfg.Server.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

// withService sets up logging and the service aggregate, runs fn, and
// tears everything down. SIGINT/SIGTERM cancel the context.
func withService(fn func(ctx context.Context, svc *engine.Service, r *ui.Renderer) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig(cfg.DataRoot)
	logCfg.Level = cfg.Server.LogLevel
	logCfg.WriteToStderr = flagVerbose
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := engine.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	r := ui.NewRenderer(os.Stdout)
	if err := fn(ctx, svc, r); err != nil {
		r.Error(err)
		return err
	}
	return nil
}
