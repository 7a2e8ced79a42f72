package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/solatis/rulefilter/internal/core/config"
	"github.com/solatis/rulefilter/internal/core/db"
	"github.com/solatis/rulefilter/internal/logging"
	"github.com/solatis/rulefilter/internal/rules"
)

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "rulefilter",
	Short:         "Rule filter expression engine",
	Long:          `rulefilter compiles stored rule sets into predicates and evaluates them in memory or translates them for SQL, CEL and JSONLogic targets.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// loadConfig reads configuration and applies persistent flag overrides.
// Flags beat environment, which beats the config file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db-url") {
		cfg.Database.URL = dbURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}

	if _, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openDatabase opens the rule store database and its named queries.
func openDatabase(ctx context.Context, cfg *config.Config) (*sqlx.DB, *db.Queries, error) {
	database, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return database, queries, nil
}

// loadRegistry returns the configured descriptor catalogue.
func loadRegistry(cfg *config.Config) (*rules.Registry, error) {
	if cfg.Catalogue.Path == "" {
		return rules.DefaultRegistry(), nil
	}
	registry, err := rules.LoadRegistryFile(cfg.Catalogue.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalogue: %w", err)
	}
	log.WithFields(log.Fields{
		"path":        cfg.Catalogue.Path,
		"descriptors": len(registry.Descriptors()),
	}).Info("loaded rule descriptor catalogue")
	return registry, nil
}
