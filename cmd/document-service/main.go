package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gogotex/document-service/internal/app"
	"github.com/gogotex/document-service/internal/config"
	"github.com/gogotex/document-service/internal/tokens"
	"github.com/gogotex/document-service/pkg/logger"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFiles []string
	root := &cobra.Command{
		Use:          "document-service",
		Short:        "Revisioned document storage service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadConfig(envFiles...)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		logger.Configure(logger.Config{Env: cfg.Log.Format, Level: cfg.Log.Level, ServiceName: "document-service"})
		return cfg, nil
	}

	root.AddCommand(serveCmd(load), checkCmd(load), tokenCmd(load))
	return root
}

func serveCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			logger.Infof("config loaded: backend=%s cache=%s auth=%s", cfg.Storage.Backend, cfg.Cache.Driver, cfg.Auth.Mode)
			return a.Run(ctx)
		},
	}
}

func checkCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and scan the store heads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			store, cleanup, err := app.OpenStore(cmd.Context(), cfg)
			defer cleanup()
			if err != nil {
				return err
			}
			start := time.Now()
			var live, deleted int
			for h, err := range store.Heads(cmd.Context()) {
				if err != nil {
					return fmt.Errorf("scan heads: %w", err)
				}
				if h.Deleted {
					deleted++
				} else {
					live++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backend=%s documents=%d deleted=%d scan=%s\n",
				cfg.Storage.Backend, live, deleted, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func tokenCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token for AUTH_MODE=hmac",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = cfg.JWT.TokenTTL
			}
			tok, err := tokens.Issue(cfg.JWT.Secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (user name)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default JWT_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
