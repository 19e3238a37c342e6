package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"winechat/internal/config"
	"winechat/internal/domain"
	"winechat/internal/store/postgres"
	"winechat/internal/store/sqlite"
)

var configFile string

// rootCmd runs the server when no subcommand is given.
var rootCmd = &cobra.Command{
	Use:          "winechat",
	Short:        "WineChat messaging server",
	Long:         `Direct messaging between buyers and sellers, served over REST and WebSocket.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml); environment variables take precedence")
}

// app holds what every subcommand needs.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	db    *sql.DB
	repos domain.Repositories
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.log.Sync()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// bootstrap loads config, builds the logger and opens the database. Schema
// migrations run every time; they are idempotent.
func bootstrap() (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	log = log.With(zap.String("app", cfg.AppName), zap.String("env", cfg.Env))

	a := &app{cfg: cfg, log: log}
	switch cfg.DBDriver {
	case config.DriverPostgres:
		if a.db, err = postgres.Open(cfg.DatabaseURL); err == nil {
			if err = postgres.Migrate(a.db); err == nil {
				a.repos = postgres.NewRepositories(a.db)
			}
		}
	default:
		if a.db, err = sqlite.Open(cfg.SQLitePath); err == nil {
			if err = sqlite.Migrate(a.db); err == nil {
				a.repos = sqlite.NewRepositories(a.db)
			}
		}
	}
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init %s store: %w", cfg.DBDriver, err)
	}
	log.Info("store ready", zap.String("driver", cfg.DBDriver))
	return a, nil
}
