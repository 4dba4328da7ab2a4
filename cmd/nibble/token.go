package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/nibble/adapters/hasher"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Operator API token utilities",
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash <token>",
	Short: "Hash a token for server.admin_token_hash",
	Long: `Generate the bcrypt hash of an operator token.

Put the output in server.admin_token_hash; clients then send the
plaintext token in the X-Admin-Token header.

Example:
  nibble token hash s3cret`,
	Args: cobra.ExactArgs(1),
	RunE: runTokenHash,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenHashCmd)
}

func runTokenHash(cmd *cobra.Command, args []string) error {
	h, err := hasher.NewBcrypt(0).Hash(args[0])
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}
	fmt.Println(string(h))
	return nil
}
