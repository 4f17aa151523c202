package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/devcubo3/trabalho-mae/config"
	"github.com/devcubo3/trabalho-mae/constants"
)

func main() {
	os.Exit(execute())
}

func execute() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type globals struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           constants.ServiceName,
		Short:         "Bank statement extraction service",
		Long:          "Turns PDF bank statements into a monthly DOCX ledger using a vision language model.",
		Version:       constants.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			g.cfg = cfg
			g.logger = newLogger(cmd.ErrOrStderr(), cfg)
			slog.SetDefault(g.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to a config file (json, yaml or toml)")

	serve := newServeCmd(g)
	root.AddCommand(serve, newProcessCmd(g), newCleanupCmd(g))
	// running the binary without a command serves, like the deployment expects
	root.RunE = serve.RunE

	return root
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.Debug {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("service", constants.ServiceName, "version", constants.Version)
}
