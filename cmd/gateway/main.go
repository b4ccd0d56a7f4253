// Gateway runs the interface and protocol-server layer: HTTP transports,
// mDNS/SSDP discovery and the interface bridges configured in one YAML file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/metrics"
	"github.com/nerrad567/gray-logic-gateway/internal/netaddr"
	"github.com/nerrad567/gray-logic-gateway/internal/servers"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	shutdownTimeout   = 15 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Gateway - protocol servers and interface bridges",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	cmd.Flags().StringVarP(&configPath, "config", "c", getConfigPath(), "path to the configuration file")
	return cmd
}

// getConfigPath returns the configuration file path.
// GATEWAY_CONFIG overrides the default; the --config flag overrides both.
func getConfigPath() string {
	if path := os.Getenv("GATEWAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// run wires the layer together and blocks until ctx is cancelled.
//
// Only a config or database failure is fatal. Handles that fail to start
// are logged and left not-running.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	registry := servers.NewRegistry(cfg, configPath, database.NewIDStore(db), servers.Deps{
		Logger:   log,
		Metrics:  metrics.New(),
		Version:  version,
		Resolver: netaddr.NewResolver(nil),
	})

	if err := registry.Init(ctx); err != nil {
		log.Warn("some servers failed to start", "error", err)
	}
	for _, h := range registry.Servers() {
		log.Info("server registered", "name", h.Name(), "type", h.Type(), "id", h.ID(), "state", h.State())
	}

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := registry.StopAsync(stopCtx); err != nil {
		log.Warn("errors while stopping servers", "error", err)
	}

	log.Info("gateway stopped")
	return nil
}
