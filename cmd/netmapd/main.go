package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/netmap-platform/netmap/internal/bootstrap"
	"github.com/netmap-platform/netmap/internal/geo"
	"github.com/netmap-platform/netmap/internal/logging"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

var (
	configFile string
	envFile    string

	importTenant string
	importFile   string

	rootCmd = &cobra.Command{
		Use:           "netmapd",
		Short:         "Coverage resolution and network topology service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return nil
		},
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the gRPC health endpoint and the metrics listener",
		RunE:  runServe,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the PostGIS schema",
		RunE:  runMigrate,
	}
	importCmd = &cobra.Command{
		Use:   "import",
		Short: "Import zones for a tenant from a GeoJSON FeatureCollection",
		RunE:  runImport,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")

	importCmd.Flags().StringVarP(&importTenant, "tenant", "t", "", "tenant id (required)")
	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "GeoJSON file (required)")
	_ = importCmd.MarkFlagRequired("tenant")
	_ = importCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(serveCmd, migrateCmd, importCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "netmapd: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bs := bootstrap.New()
	if err := bs.Initialize(ctx, configFile); err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	logger := bs.Logger
	logger.Info(ctx, "Starting netmap",
		zap.String("version", version),
		zap.String("config_file", configFile))

	if err := bs.Start(ctx); err != nil {
		_ = bs.Stop(context.Background())
		return err
	}
	logger.Info(ctx, "Netmap is running")

	<-ctx.Done()
	logger.Info(context.Background(), "Shutdown signal received, stopping gracefully...")
	if err := bs.Stop(context.Background()); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := bootstrap.LoadConfig(configFile)
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrate requires database.driver=postgres, got %q", cfg.Database.Driver)
	}
	cfg.Database.AutoMigrate = true
	repo, err := bootstrap.OpenRepository(ctx, cfg.Database, logging.Nop())
	if err != nil {
		return err
	}
	defer repo.Close()
	fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	data, err := os.ReadFile(importFile)
	if err != nil {
		return err
	}
	var fc geo.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", importFile, err)
	}

	bs := bootstrap.New()
	if err := bs.Initialize(ctx, configFile); err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer bs.Stop(context.Background())

	res, err := bs.Topology.ImportZones(ctx, importTenant, &fc)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d zones for %s (%d created, %d updated)\n",
		len(res.Zones), importTenant, res.Created, res.Updated)
	return nil
}
