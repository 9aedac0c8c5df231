// Package app provides the entry point for the talosd command-line application.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/talos/pkg/capability"
	talconfig "github.com/stacklok/talos/pkg/config"
	"github.com/stacklok/talos/pkg/env"
	"github.com/stacklok/talos/pkg/gateway"
	"github.com/stacklok/talos/pkg/logger"
	"github.com/stacklok/talos/pkg/telemetry"
)

var rootCmd = &cobra.Command{
	Use:               "talosd",
	DisableAutoGenTag: true,
	Short:             "Talos gateway daemon - capability-based authorization for AI-agent tool calls",
	Long: `talosd is the Talos gateway daemon. It loads a tenant configuration,
wires a CapabilityManager and RateLimiter per tenant, and exposes a single
Authorize dispatch point that a host application's transport layer calls into
for every agent tool invocation.

talosd itself does not terminate the agent-facing wire protocol: the P2P
transport carrying signed frames between agent and gateway is a host
application's concern. What talosd starts and keeps running is the
authorization dispatcher, its audit sink, and (if configured) a Prometheus
metrics endpoint.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates the root command for the talosd CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the gateway configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Talos gateway",
		Long: `Start the Talos gateway dispatcher: load the configuration file, register
every configured tenant's CapabilityManager and RateLimiter, start the
telemetry provider, and block until a shutdown signal arrives.`,
		RunE: runServe,
	}
	cmd.Flags().String("metrics-addr", "", "Address to serve the Prometheus /metrics endpoint on (empty disables it)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("talosd version: %s", getVersion())
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a gateway configuration file",
		RunE: func(_ *cobra.Command, _ []string) error {
			configPath := viper.GetString("config")
			if configPath == "" {
				return fmt.Errorf("no configuration file specified, use --config flag")
			}
			cfg, err := loadAndValidateConfig(configPath)
			if err != nil {
				return err
			}
			logger.Infof("configuration is valid: %d tenant(s), listen_addr=%s", len(cfg.Tenants), cfg.ListenAddr)
			return nil
		},
	}
}

func getVersion() string {
	return "dev"
}

func loadAndValidateConfig(configPath string) (*talconfig.Config, error) {
	logger.Infof("loading configuration from: %s", configPath)

	reader := env.OSReader{}
	loader := talconfig.NewYAMLLoader(configPath, reader)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}

	if err := talconfig.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// buildGateway wires a Gateway from cfg: one CapabilityManager per tenant,
// keyed by the seed its signer_seed_env names, a telemetry Provider if
// telemetry is configured, and the gateway itself started and ready for
// Authorize calls.
func buildGateway(ctx context.Context, cfg *talconfig.Config) (*gateway.Gateway, *telemetry.Provider, error) {
	reader := env.OSReader{}

	var provider *telemetry.Provider
	var metrics *telemetry.Metrics
	if cfg.Telemetry.TracingEnabled || cfg.Telemetry.MetricsEnabled || cfg.Telemetry.OTLPEndpoint != "" {
		builder := telemetry.NewBuilder(telemetry.Config{
			ServiceName:                 cfg.Telemetry.ServiceName,
			ServiceVersion:              cfg.Telemetry.ServiceVersion,
			OTLPEndpoint:                cfg.Telemetry.OTLPEndpoint,
			Insecure:                    cfg.Telemetry.Insecure,
			Headers:                     cfg.Telemetry.Headers,
			TracingEnabled:              cfg.Telemetry.TracingEnabled,
			MetricsEnabled:              cfg.Telemetry.MetricsEnabled,
			SamplingRate:                cfg.Telemetry.SamplingRate,
			EnablePrometheusMetricsPath: cfg.Telemetry.EnablePrometheusMetricsPath,
		})
		var err error
		provider, err = builder.Build(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build telemetry provider: %w", err)
		}
		metrics, err = telemetry.NewMetrics(provider.MeterProvider())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create metrics instruments: %w", err)
		}
	}

	gw := gateway.New(gateway.WithMetrics(metrics))

	for _, tenantCfg := range cfg.Tenants {
		kp, err := talconfig.ResolveTenantSigner(tenantCfg, reader)
		if err != nil {
			return nil, nil, fmt.Errorf("tenant %q: %w", tenantCfg.ID, err)
		}
		mgr := capability.NewManager(kp, capability.NewStaticResolver())
		if err := gw.RegisterTenant(gateway.TenantConfig{
			ID:                    tenantCfg.ID,
			Manager:               mgr,
			RateLimit:             tenantCfg.RateLimit.ToRatelimitConfig(),
			AllowedTools:          tenantCfg.ToolAllowlist,
			MaxConcurrentSessions: tenantCfg.MaxConcurrentSessions,
		}); err != nil {
			return nil, nil, fmt.Errorf("failed to register tenant %q: %w", tenantCfg.ID, err)
		}
		logger.Infof("registered tenant %q (%d tools allowed)", tenantCfg.ID, len(tenantCfg.ToolAllowlist))
	}

	if err := gw.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start gateway: %w", err)
	}
	return gw, provider, nil
}

// runServe implements the serve command: build the gateway, optionally
// serve Prometheus metrics, and block until the context is canceled.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	configPath := viper.GetString("config")
	if configPath == "" {
		return fmt.Errorf("no configuration file specified, use --config flag")
	}

	cfg, err := loadAndValidateConfig(configPath)
	if err != nil {
		return err
	}

	gw, provider, err := buildGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if shutErr := gw.Shutdown(context.Background()); shutErr != nil {
			logger.Errorf("failed to shut down gateway: %v", shutErr)
		}
		if provider != nil {
			if shutErr := provider.Shutdown(context.Background()); shutErr != nil {
				logger.Errorf("failed to shut down telemetry provider: %v", shutErr)
			}
		}
	}()

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr != "" && provider != nil && provider.PrometheusHandler() != nil {
		srv := &http.Server{Addr: metricsAddr, Handler: provider.PrometheusHandler()}
		go func() {
			logger.Infof("serving metrics at %s/metrics", metricsAddr)
			if serveErr := srv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
				logger.Errorf("metrics server error: %v", serveErr)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}

	logger.Infof("talosd running with %d tenant(s); waiting for shutdown signal", len(cfg.Tenants))
	<-ctx.Done()
	logger.Info("shutdown signal received, stopping gateway")
	return nil
}
