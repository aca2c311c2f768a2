package main

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"topup-backend/internal/app"
	"topup-backend/internal/models"
	"topup-backend/internal/services"

	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the ledger balance of an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		chainID := v.GetInt64("chain")
		if chainID == 0 {
			return errors.New("--chain is required")
		}
		return withContainer(func(c *app.ServiceContainer) error {
			account := v.GetString("account")
			if account == "" {
				cred, err := c.Identity.Current()
				if err != nil {
					return err
				}
				account = cred.Address
			}
			bal, err := c.Balances.Refresh(cmd.Context(), chainID, account)
			if err != nil {
				return err
			}
			return printJSON(bal)
		})
	},
}

var subscriptionsCmd = &cobra.Command{
	Use:     "subscriptions",
	Aliases: []string{"subs"},
	Short:   "List subscriptions with their schedule progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(c *app.ServiceContainer) error {
			viewer := ""
			if cred, err := c.Identity.Current(); err == nil {
				viewer = cred.Address
			}
			criteria, err := services.ParseFilterCriteria(filterQueryFromFlags(), viewer)
			if err != nil {
				return err
			}
			views, err := c.Subscriptions.List(cmd.Context(), criteria)
			if err != nil {
				return err
			}
			return printJSON(views)
		})
	},
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Register a recurring price or randomness job",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := subscriptionRequestFromFlags()
		if err != nil {
			return err
		}
		return withContainer(func(c *app.ServiceContainer) error {
			id, err := c.Subscriptions.Subscribe(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"subscription_id": id})
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start <subscription-id>",
	Short: "Resume one of your subscriptions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(c *app.ServiceContainer) error {
			return c.Subscriptions.Start(cmd.Context(), args[0])
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <subscription-id>",
	Short: "Pause one of your subscriptions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(c *app.ServiceContainer) error {
			return c.Subscriptions.Stop(cmd.Context(), args[0])
		})
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "Withdraw your ledger balance on a chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		chainID, receiver := v.GetInt64("chain"), v.GetString("receiver")
		if chainID == 0 || receiver == "" {
			return errors.New("--chain and --receiver are required")
		}
		return withContainer(func(c *app.ServiceContainer) error {
			return c.Subscriptions.Withdraw(cmd.Context(), chainID, receiver)
		})
	},
}

var whitelistCmd = &cobra.Command{
	Use:   "whitelist <address>",
	Short: "Check whether an address may create subscriptions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(c *app.ServiceContainer) error {
			ok, err := c.Subscriptions.IsWhitelisted(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"address": args[0], "whitelisted": ok})
		})
	},
}

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List the chains and tokens the ledger accepts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(c *app.ServiceContainer) error {
			chains, err := c.Ledger.AllowedChains(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(chains)
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the credential signed with the configured wallet key",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(c *app.ServiceContainer) error {
			cred, err := c.Identity.Current()
			if err != nil {
				return err
			}
			return printJSON(cred)
		})
	},
}

// subscriptionRequestFromFlags checks presence only; the service validates ranges
func subscriptionRequestFromFlags() (models.SubscriptionRequest, error) {
	req := models.SubscriptionRequest{
		ChainID:         v.GetInt64("chain"),
		ContractAddress: v.GetString("contract"),
		Method:          v.GetString("method"),
		Frequency:       v.GetUint64("frequency"),
		GasLimit:        v.GetUint64("gas-limit"),
	}
	if req.ChainID == 0 || req.ContractAddress == "" || req.Method == "" {
		return models.SubscriptionRequest{}, errors.New("--chain, --contract and --method are required")
	}
	switch {
	case v.GetBool("random"):
		req.Kind = models.RandomKind()
	case v.GetString("pair") != "":
		req.Kind = models.PriceKind(v.GetString("pair"))
	default:
		return models.SubscriptionRequest{}, errors.New("one of --pair or --random is required")
	}
	return req, nil
}

// filterQueryFromFlags maps CLI flags onto the query keys ParseFilterCriteria reads
func filterQueryFromFlags() url.Values {
	q := url.Values{}
	if kind := v.GetString("type"); kind != "" {
		q.Set("type", kind)
	}
	if v.GetBool("mine") {
		q.Set("showMine", "true")
	}
	if v.GetBool("inactive") {
		q.Set("showInactive", "true")
	}
	var chains []string
	for _, id := range v.GetIntSlice("chains") {
		chains = append(chains, strconv.Itoa(id))
	}
	if len(chains) > 0 {
		q.Set("chainIds", strings.Join(chains, ","))
	}
	if search := v.GetString("search"); search != "" {
		q.Set("search", search)
	}
	return q
}

func init() {
	balanceCmd.Flags().Int64("chain", 0, "chain id")
	balanceCmd.Flags().String("account", "", "account address (default: signer)")

	subscriptionsCmd.Flags().String("type", "", "price | random (empty = any)")
	subscriptionsCmd.Flags().Bool("mine", false, "only subscriptions owned by the signer")
	subscriptionsCmd.Flags().Bool("inactive", false, "include paused subscriptions")
	subscriptionsCmd.Flags().IntSlice("chains", nil, "restrict to these chain ids")
	subscriptionsCmd.Flags().String("search", "", "substring of the pair id")

	subscribeCmd.Flags().Int64("chain", 0, "chain id")
	subscribeCmd.Flags().String("contract", "", "contract the ledger calls")
	subscribeCmd.Flags().String("method", "", "method name or signature to call")
	subscribeCmd.Flags().Uint64("frequency", 3600, "seconds between executions")
	subscribeCmd.Flags().Uint64("gas-limit", 200000, "gas limit of each execution")
	subscribeCmd.Flags().String("pair", "", "price pair id, e.g. ETH/USD")
	subscribeCmd.Flags().Bool("random", false, "deliver randomness instead of a price")

	withdrawCmd.Flags().Int64("chain", 0, "chain id")
	withdrawCmd.Flags().String("receiver", "", "address receiving the funds")

	rootCmd.AddCommand(balanceCmd, subscriptionsCmd, subscribeCmd, startCmd, stopCmd, withdrawCmd, whitelistCmd, chainsCmd, whoamiCmd)
}
