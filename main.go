package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"livemarks/internal/client"
	"livemarks/internal/config"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

type commandContext struct {
	configFlag *string
	serverFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var serverFlag string

	ctx := &commandContext{configFlag: &configFlag, serverFlag: &serverFlag}

	rootCmd := &cobra.Command{
		Use:           "livemarks",
		Short:         "Bookmark folders that mirror RSS and Atom feeds",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			ctx.logger = setupLogging(cmd.ErrOrStderr(), cfg.Logging.Level)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Daemon base URL (defaults to server.bind from config)")

	rootCmd.AddCommand(
		newServeCommand(ctx),
		newAddCommand(ctx),
		newListCommand(ctx),
		newShowCommand(ctx),
		newChildrenCommand(ctx),
		newReloadCommand(ctx),
		newRemoveCommand(ctx),
		newSetFeedCommand(ctx),
		newSetSiteCommand(ctx),
		newImportCommand(ctx),
		newExportCommand(ctx),
	)

	return rootCmd
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) client() (*client.Client, error) {
	if c.serverFlag != nil && strings.TrimSpace(*c.serverFlag) != "" {
		return client.New(strings.TrimSpace(*c.serverFlag), nil), nil
	}

	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return client.New(cfg.ServerURL(), nil), nil
}

func setupLogging(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lvl,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
