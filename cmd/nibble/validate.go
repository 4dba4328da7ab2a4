package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/artpar/nibble/adapters/redis"
	"github.com/artpar/nibble/adapters/sqlite"
	"github.com/artpar/nibble/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the nibble configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Threshold ordering (nobal_amt <= lowbal_amt)
  - Balance store is reachable (optional)

Examples:
  nibble validate
  nibble validate --config /etc/nibble/config.yaml --check-store`,
	RunE: runValidate,
}

var validateCheckStore bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckStore, "check-store", false, "check if the balance store is reachable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	// Check file exists
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	// Load and validate config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)

	// Show config summary
	fmt.Printf("  %s Balance store: %s\n", checkMark, cfg.Balance.Driver)
	fmt.Printf("  %s Read failure policy: %s\n", checkMark, cfg.Balance.ReadFailure)
	fmt.Printf("  %s Low balance: %.2f (%s)\n", checkMark, cfg.Thresholds.LowBalanceAmount, cfg.Thresholds.LowBalanceAction)
	fmt.Printf("  %s No balance: %.2f (%s)\n", checkMark, cfg.Thresholds.NoBalanceAmount, cfg.Thresholds.NoBalanceAction)
	if cfg.Heartbeat.IntervalSecs > 0 {
		fmt.Printf("  %s Heartbeat: every %ds\n", checkMark, cfg.Heartbeat.IntervalSecs)
	} else {
		fmt.Printf("  %s Heartbeat: disabled (sessions opt in individually)\n", checkMark)
	}

	// Optional: check the store
	if validateCheckStore {
		if err := checkStoreReachable(cfg); err != nil {
			fmt.Printf("  %s Balance store reachable\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			fmt.Printf("  %s Balance store reachable\n", checkMark)
		}
	}

	fmt.Println()
	fmt.Println("Configuration is valid.")
	return nil
}

func checkStoreReachable(cfg *config.Config) error {
	switch cfg.Balance.Driver {
	case "redis":
		store := redis.New(redis.Config{
			Host:    cfg.Balance.Host,
			Port:    cfg.Balance.Port,
			DB:      cfg.Balance.DB,
			Timeout: cfg.Balance.Timeout,
		})
		defer store.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return store.Ping(ctx)

	case "sqlite":
		path := cfg.Balance.Path
		if path == "" {
			path = "nibble.db"
		}
		db, err := sqlite.Open(path)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Ping()

	default:
		return nil
	}
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
