package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/nibble/bootstrap"
	"github.com/artpar/nibble/config"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Inspect and top up account balances",
}

var balanceGetCmd = &cobra.Command{
	Use:   "get <account>",
	Short: "Show an account's balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalanceGet,
}

var balanceCreditCmd = &cobra.Command{
	Use:   "credit <account> <amount>",
	Short: "Add funds to an account",
	Long: `Add funds to an account's balance, creating the account if it
does not exist yet.

Examples:
  nibble balance credit alice 25
  nibble balance credit alice 9.99`,
	Args: cobra.ExactArgs(2),
	RunE: runBalanceCredit,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.AddCommand(balanceGetCmd)
	balanceCmd.AddCommand(balanceCreditCmd)
}

func runBalanceGet(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, cleanup, err := bootstrap.OpenStore(cfg, zerolog.Nop())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	balance, err := store.Balance(ctx, args[0])
	if err != nil {
		return fmt.Errorf("read balance for %s: %w", args[0], err)
	}

	fmt.Printf("%s: %.6f\n", args[0], balance)
	return nil
}

func runBalanceCredit(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseFloat(args[1], 64)
	if err != nil || amount <= 0 {
		return fmt.Errorf("amount must be a positive number, got %q", args[1])
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, cleanup, err := bootstrap.OpenStore(cfg, zerolog.Nop())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Credit(ctx, args[0], amount); err != nil {
		return fmt.Errorf("credit %s: %w", args[0], err)
	}

	balance, err := store.Balance(ctx, args[0])
	if err != nil {
		fmt.Printf("%s Credited %.6f to %s\n", checkMark, amount, args[0])
		return nil
	}
	fmt.Printf("%s Credited %.6f to %s (balance: %.6f)\n", checkMark, amount, args[0], balance)
	return nil
}
