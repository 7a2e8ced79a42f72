package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/solatis/rulefilter/internal/core/api"
	"github.com/solatis/rulefilter/internal/core/auth"
	"github.com/solatis/rulefilter/internal/core/config"
	"github.com/solatis/rulefilter/internal/core/db"
	"github.com/solatis/rulefilter/internal/core/httpapi"
	"github.com/solatis/rulefilter/internal/core/server"
	"github.com/solatis/rulefilter/internal/core/store"
	"github.com/solatis/rulefilter/internal/rules"
)

// Version is the service version reported at startup.
const Version = "0.1.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC and HTTP evaluation services",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50051, "gRPC server port")
	serveCmd.Flags().Int("http-port", 8080, "HTTP server port (0 disables HTTP)")
	serveCmd.Flags().Bool("insecure", false, "serve without API key authentication")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("http-port") {
		cfg.HTTP.Port, _ = cmd.Flags().GetInt("http-port")
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	database, queries, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	statuses, err := db.MigrateStatus(ctx, database)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			return fmt.Errorf("migration %s not applied - run 'rulefilter migrate up' first", s.ID)
		}
	}

	var authenticator *auth.Authenticator
	insecure, _ := cmd.Flags().GetBool("insecure")
	if !insecure {
		secrets, err := config.HMACSecrets()
		if err != nil {
			return fmt.Errorf("failed to load HMAC secrets: %w", err)
		}
		if len(secrets) == 0 {
			return fmt.Errorf("no HMAC secrets configured (set RF_HMAC_SECRET or pass --insecure)")
		}
		authenticator = auth.NewAuthenticator(secrets, queries)
	} else {
		log.Warn("API key authentication disabled")
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	cache, err := rules.NewPredicateCache(cfg.Cache.Size)
	if err != nil {
		return err
	}
	ruleStore := store.New(database, queries)
	engine := rules.NewEngine(registry, ruleStore,
		rules.WithCache(cache),
		rules.WithLogger(log.WithField("component", "engine")),
	)

	service, err := api.NewRuleService(engine, ruleStore, &cfg.Server, db.Dialect(database))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(&cfg.Server, service, authenticator)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log.WithFields(log.Fields{
		"version": Version,
		"grpc":    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"http":    cfg.HTTP.Port,
	}).Info("starting rule filter service")

	errChan := make(chan error, 2)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	var httpServer *httpapi.Server
	if cfg.HTTP.Port != 0 {
		httpServer = httpapi.NewServer(&cfg.HTTP, httpapi.NewRouter(service, authenticator))
		go func() {
			errChan <- httpServer.Start()
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		log.Info("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP shutdown failed")
		}
	}
	return grpcServer.Shutdown(shutdownCtx)
}
