package main

import (
	"errors"
	"fmt"
	"os"

	"topup-backend/internal/app"
	"topup-backend/internal/models"
	"topup-backend/internal/services"
	"topup-backend/internal/utils"

	"github.com/spf13/cobra"
)

var topupCmd = &cobra.Command{
	Use:   "topup",
	Short: "Send funds to the execution account and record the deposit",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := topUpRequestFromFlags()
		if err != nil {
			return err
		}
		return withContainer(func(c *app.ServiceContainer) error {
			deposit, err := c.Reconciler.TopUp(cmd.Context(), req)
			return reportDeposit(deposit, err)
		})
	},
}

var recordCmd = &cobra.Command{
	Use:   "record <deposit-id>",
	Short: "Re-issue the ledger step for a persisted deposit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(c *app.ServiceContainer) error {
			deposit, err := c.Reconciler.RecordDeposit(cmd.Context(), args[0])
			return reportDeposit(deposit, err)
		})
	},
}

var recordExternalCmd = &cobra.Command{
	Use:   "record-external",
	Short: "Record a transaction hash that was never tracked locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		chainID, txHash := v.GetInt64("chain"), v.GetString("tx")
		if chainID == 0 || txHash == "" {
			return errors.New("--chain and --tx are required")
		}
		return withContainer(func(c *app.ServiceContainer) error {
			deposit, err := c.Reconciler.RecordExternal(cmd.Context(), chainID, txHash)
			return reportDeposit(deposit, err)
		})
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List deposits that reached the chain but were never recorded",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(c *app.ServiceContainer) error {
			if v.GetBool("resume") {
				report, err := services.NewResumeService(c.Reconciler, c.Identity, true, c.Logger).Scan(cmd.Context())
				if err != nil {
					return err
				}
				failed := make(map[string]string, len(report.Failed))
				for id, ferr := range report.Failed {
					failed[id] = ferr.Error()
				}
				return printJSON(map[string]interface{}{
					"found":   report.Found,
					"resumed": report.Resumed,
					"failed":  failed,
				})
			}
			cred, err := c.Identity.Current()
			if err != nil {
				return err
			}
			deposits, err := c.Reconciler.ResumableDeposits(cmd.Context(), cred.Address)
			if err != nil {
				return err
			}
			return printJSON(deposits)
		})
	},
}

// topUpRequestFromFlags builds the saga input from bound flags
func topUpRequestFromFlags() (services.TopUpRequest, error) {
	chainID := v.GetInt64("chain")
	if chainID == 0 {
		return services.TopUpRequest{}, errors.New("--chain is required")
	}
	amount, err := utils.ParseAmount(v.GetString("amount"))
	if err != nil {
		return services.TopUpRequest{}, err
	}
	return services.TopUpRequest{
		ChainID:     chainID,
		Amount:      amount,
		TokenSymbol: v.GetString("token"),
		Grantee:     v.GetString("grantee"),
	}, nil
}

// reportDeposit prints the deposit and turns a saga failure into its user message
func reportDeposit(deposit *models.Deposit, err error) error {
	if deposit != nil {
		if perr := printJSON(deposit); perr != nil {
			return perr
		}
	}
	if err == nil {
		return nil
	}
	var topUpErr *services.TopUpError
	if errors.As(err, &topUpErr) {
		if topUpErr.Retryable() && deposit != nil {
			fmt.Fprintf(os.Stderr, "retry with: topupctl record %s\n", deposit.ID)
		}
		return errors.New(topUpErr.UserMessage())
	}
	return err
}

func init() {
	topupCmd.Flags().Int64("chain", 0, "chain id to fund")
	topupCmd.Flags().String("amount", "10", "amount in whole token units")
	topupCmd.Flags().String("token", "", "ERC-20 symbol (empty = native currency)")
	topupCmd.Flags().String("grantee", "", "address credited instead of the signer")

	recordExternalCmd.Flags().Int64("chain", 0, "chain id of the transaction")
	recordExternalCmd.Flags().String("tx", "", "transaction hash")

	pendingCmd.Flags().Bool("resume", false, "record every pending deposit")

	rootCmd.AddCommand(topupCmd, recordCmd, recordExternalCmd, pendingCmd)
}
