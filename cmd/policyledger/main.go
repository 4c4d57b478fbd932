package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/policyledger/policyledger/internal/alert"
	"github.com/policyledger/policyledger/internal/config"
	"github.com/policyledger/policyledger/internal/session"
	"github.com/policyledger/policyledger/internal/storage"
)

const version = "v0.1.0"

var (
	cfgFile    string
	ledgerFile string
)

var rootCmd = &cobra.Command{
	Use:           "policyledger",
	Short:         "policyledger - tamper-evident insurance contract ledger",
	Long:          `Records insurance contracts in a SHA-256 hash chain and detects edits to the saved ledger file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "policyledger.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&ledgerFile, "file", "", "ledger file (overrides ledger.file)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("policyledger %s\n", version)
		fmt.Println("Tamper-evident insurance contract ledger")
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory and checkpoint database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := os.MkdirAll(cfg.Ledger.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		dbPath := cfg.Ledger.CheckpointDBPath()
		store, err := storage.New(dbPath)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer store.Close()

		file, err := resolveLedgerFile(cfg)
		if err != nil {
			return err
		}

		fmt.Printf("Ledger file: %s\n", file)
		fmt.Printf("Data directory: %s\n", cfg.Ledger.DataDir)
		fmt.Printf("Checkpoint database: %s\n", dbPath)
		if last, err := store.LastFile(); err == nil {
			fmt.Printf("Last checkpointed file: %s\n", last)
		}

		return nil
	},
}

// app bundles what every command needs once config is loaded.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *storage.Storage
	session *session.Session
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	a.logger.Sync() //nolint:errcheck
}

// openApp loads config, opens the checkpoint store and the ledger file.
// A store held by a running server is skipped with a warning.
func openApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	file, err := resolveLedgerFile(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithAlerter(alert.NewManager(cfg.Alerts.Enabled, cfg.Alerts.SlackWebhook)),
	}

	if err := os.MkdirAll(cfg.Ledger.DataDir, 0755); err != nil {
		logger.Warn("failed to create data directory", zap.Error(err))
	} else if store, err := storage.New(cfg.Ledger.CheckpointDBPath()); err != nil {
		logger.Warn("checkpoints disabled", zap.Error(err))
	} else {
		a.store = store
		opts = append(opts, session.WithStore(store))
	}

	a.session = session.New(file, opts...)
	if err := a.session.Open(); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func resolveLedgerFile(cfg *config.Config) (string, error) {
	file := cfg.Ledger.File
	if ledgerFile != "" {
		file = ledgerFile
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("failed to resolve ledger file: %w", err)
	}
	return abs, nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
