package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal"
	pkgconfig "github.com/synaptic-algos/ST-KnowledgeVault/pkg/config"
)

var version = "dev"

// options loads the config file (optional) and applies global flag
// overrides.
func options(cmd *cli.Command, extra ...internal.Option) ([]internal.Option, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if vault := cmd.String("vault"); vault != "" {
		cfg.Vault.Path = vault
	}
	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}
	return append(opts, extra...), nil
}

func propagate(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunPropagate(ctx, cmd.String("summary"), opts...)
}

func regenerate(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunRegenerate(ctx, cmd.Bool("dry-run"), opts...)
}

func reindex(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunIndex(ctx, opts...)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, internal.WithWatch(cmd.Bool("watch")), internal.WithLogOutput(os.Stdout))
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:    "vaultsync",
		Usage:   "Keep epic, feature and story metadata and the roadmap summary in step with sprint summaries",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (optional)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "vault",
				Usage:   "Vault root directory (overrides vault.path)",
				Sources: cli.EnvVars("VAULTSYNC_VAULT"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "propagate",
				Usage:  "Apply a sprint summary to epic, feature and story documents",
				Action: propagate,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "summary",
						Aliases:  []string{"s"},
						Usage:    "Path to the sprint summary YAML",
						Required: true,
					},
				},
			},
			{
				Name:   "regenerate",
				Usage:  "Rewrite the auto-generated summary table in the roadmap",
				Action: regenerate,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Print the new roadmap instead of writing it",
					},
				},
			},
			{
				Name:   "index",
				Usage:  "Rebuild the SQLite document index",
				Action: reindex,
			},
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Watch the vault, keep the index current and regenerate the roadmap on epic changes",
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: mcp,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
