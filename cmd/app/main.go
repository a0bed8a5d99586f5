package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gaidenhq/gaiden/internal"
	pkgconfig "github.com/gaidenhq/gaiden/pkg/config"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func importGuide(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: gaiden import <file>")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ImportFile(ctx, cfg, cmd.Args().First())
}

func exportGuide(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("usage: gaiden export <guide-id> <out-file>")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ExportGuide(ctx, cfg, cmd.Args().Get(0), cmd.Args().Get(1))
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(cfg)
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:   "gaiden",
		Usage:  "Local-first game guide library with windowed retrieval, bookmarks, and collections",
		Action: serve,
		Flags:  []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server (default)",
				Action: serve,
				Flags:  []cli.Flag{configFlag},
			},
			{
				Name:      "import",
				Usage:     "Import a guide text file",
				ArgsUsage: "<file>",
				Action:    importGuide,
				Flags:     []cli.Flag{configFlag},
			},
			{
				Name:      "export",
				Usage:     "Export a guide as a bundle archive",
				ArgsUsage: "<guide-id> <out-file>",
				Action:    exportGuide,
				Flags:     []cli.Flag{configFlag},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP stdio interface for LLM clients",
				Action: mcp,
				Flags:  []cli.Flag{configFlag},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
