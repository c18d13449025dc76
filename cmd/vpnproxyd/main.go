package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dimrozakis/vpn-proxy-go/pkg/alloc"
	"github.com/dimrozakis/vpn-proxy-go/pkg/api"
	"github.com/dimrozakis/vpn-proxy-go/pkg/config"
	"github.com/dimrozakis/vpn-proxy-go/pkg/control"
	"github.com/dimrozakis/vpn-proxy-go/pkg/execctl"
	"github.com/dimrozakis/vpn-proxy-go/pkg/log"
	"github.com/dimrozakis/vpn-proxy-go/pkg/orchestrator"
	"github.com/dimrozakis/vpn-proxy-go/pkg/reconciler"
	"github.com/dimrozakis/vpn-proxy-go/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "vpnproxyd",
	Short:   "vpnproxyd - point-to-point OpenVPN tunnel control plane",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("vpnproxyd version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	serveCmd.Flags().String("config", "", "Path to YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane daemon",
	RunE:  runServe,
}

// buildSourceFilter returns a permissive filter when sourceCIDRs is the
// wide-open default, otherwise a real CIDR-based check.
func buildSourceFilter(sourceCIDRs []string) (api.SourceFilter, error) {
	if len(sourceCIDRs) == 0 || (len(sourceCIDRs) == 1 && sourceCIDRs[0] == "0.0.0.0/0") {
		return api.PermissiveSourceFilter, nil
	}
	return api.NewCIDRSourceFilter(sourceCIDRs)
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := log.WithComponent("main")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir %s: %w", cfg.DataDir, err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	pool, err := alloc.NewIPPool(cfg.AllowedAddresses, cfg.ExcludedAddresses, cfg.ReservedAddresses)
	if err != nil {
		return fmt.Errorf("building IP pool: %w", err)
	}

	exec := execctl.New("osadapt")

	orch := orchestrator.New(orchestrator.Config{
		IfacePrefix:     cfg.IfacePrefix,
		ServerPortStart: cfg.ServerPortStart,
		OpenVPNDir:      cfg.OpenVPNDir,
		RTTablesPath:    cfg.RTTablesPath,
		RemoteAddress:   cfg.RemoteAddress,
	}, exec)

	controller := &control.Controller{
		Store:           store,
		Orchestrator:    orch,
		Exec:            exec,
		IPPool:          pool,
		IfacePrefix:     cfg.IfacePrefix,
		ServerPortStart: cfg.ServerPortStart,
		OpenVPNDir:      cfg.OpenVPNDir,
		RemoteAddress:   cfg.RemoteAddress,
		ScratchDir:      cfg.DataDir,
	}

	ttl := time.Duration(cfg.RetentionTTLSeconds) * time.Second
	sweeper := reconciler.New(controller, ttl, time.Minute, 0)
	sweeper.Start()
	defer sweeper.Stop()

	sourceFilter, err := buildSourceFilter(cfg.SourceCIDRs)
	if err != nil {
		return fmt.Errorf("building source filter: %w", err)
	}

	server := api.NewServer(controller, cfg.IfacePrefix, cfg.ServerPortStart, sourceFilter)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("starting HTTP server")
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("error during shutdown")
		}
	}

	return nil
}
