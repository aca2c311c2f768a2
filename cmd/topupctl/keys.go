package main

import (
	"topup-backend/internal/app"

	"github.com/spf13/cobra"
)

var apiKeysCmd = &cobra.Command{
	Use:     "api-keys",
	Aliases: []string{"keys"},
	Short:   "List, generate or revoke the signer's ledger API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(c *app.ServiceContainer) error {
			keys, err := c.APIKeys.List(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(keys)
		})
	},
}

var generateKeyCmd = &cobra.Command{
	Use:   "generate",
	Short: "Issue a new API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(c *app.ServiceContainer) error {
			key, err := c.APIKeys.Generate(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"key": key})
		})
	},
}

var revokeKeyCmd = &cobra.Command{
	Use:   "revoke <api-key>",
	Short: "Revoke one of your API keys",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(c *app.ServiceContainer) error {
			return c.APIKeys.Revoke(cmd.Context(), args[0])
		})
	},
}

var baseFeeCmd = &cobra.Command{
	Use:   "base-fee",
	Short: "Show the per-request fee the ledger charges, in base units",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(c *app.ServiceContainer) error {
			fee, err := c.APIKeys.BaseFee(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"base_fee": fee.String()})
		})
	},
}

func init() {
	apiKeysCmd.AddCommand(generateKeyCmd, revokeKeyCmd)
	rootCmd.AddCommand(apiKeysCmd, baseFeeCmd)
}
