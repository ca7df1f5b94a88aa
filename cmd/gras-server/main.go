package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/gematik/gras-server/pkg/gras"
	"github.com/gematik/gras-server/pkg/prettylog"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gras-server",
	Short: "Federation relay authorization server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	slog.Info("Loading config", "config_path", configPath)
	cfg, err := gras.LoadConfig(configPath)
	if err != nil {
		return err
	}

	server, err := gras.NewServerFromConfig(cfg)
	if err != nil {
		return err
	}

	root := echo.New()
	root.HideBanner = true
	root.HTTPErrorHandler = gras.HTTPErrorHandler
	server.MountRoutes(root.Group(""))

	slog.Info("Starting server", "address", cfg.ListenAddr, "url", cfg.ServerURL)
	return root.Start(cfg.ListenAddr)
}

func main() {
	godotenv.Load()
	if os.Getenv("PRETTY_LOGS") != "false" {
		logger := slog.New(prettylog.NewHandler(slog.LevelDebug))
		slog.SetDefault(logger)
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
