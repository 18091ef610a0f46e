package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quorumbi/quorum/config"
	"github.com/quorumbi/quorum/internal/cache"
	"github.com/quorumbi/quorum/internal/orchestrator"
	"github.com/quorumbi/quorum/internal/server"
	"github.com/quorumbi/quorum/internal/telemetry"
	"github.com/quorumbi/quorum/provider"
)

func main() {
	var cfgPath string
	root := &cobra.Command{Use: "quorum"}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config)")

	root.AddCommand(serveCMD(&cfgPath), askCMD(&cfgPath), cacheCMD(&cfgPath))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, cfg)
		},
	}
}

func askCMD(cfgPath *string) *cobra.Command {
	var skipCache bool
	ask := &cobra.Command{
		Use:   "ask [query]",
		Short: "Run one query through the pipeline and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			chain, err := provider.NewChain(cfg.LLM)
			if err != nil {
				return err
			}
			c, err := cache.New(ctx, cfg.Cache, nil)
			if err != nil {
				return err
			}
			tel := telemetry.New(cfg.Telemetry, nil)
			if fb, ok := chain.(*provider.Fallback); ok {
				fb.OnFallback = tel.RecordProviderFallback
			}
			orch := orchestrator.New(cfg, chain, c, tel)

			resp, err := orch.Ask(ctx, strings.Join(args, " "), orchestrator.Options{SkipCache: skipCache})
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	ask.Flags().BoolVar(&skipCache, "skip-cache", false, "bypass cached answers")
	return ask
}

func cacheCMD(cfgPath *string) *cobra.Command {
	cacheCmd := &cobra.Command{Use: "cache", Short: "Inspect or clear the cache"}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCache(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(c.Stats(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	var tier string
	clear := &cobra.Command{
		Use:   "clear",
		Short: "Clear one cache tier, or everything",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCache(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			if err := c.Clear(cmd.Context(), cache.Tier(tier)); err != nil {
				return err
			}
			fmt.Println("cleared")
			return nil
		},
	}
	clear.Flags().StringVar(&tier, "tier", "", "reference, worker, synthesis or fast_answer (empty = all)")

	cacheCmd.AddCommand(stats, clear)
	return cacheCmd
}

func loadCache(ctx context.Context, cfgPath string) (*cache.Cache, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	return cache.New(ctx, cfg.Cache, nil)
}
