// Command topupctl drives top-ups and subscriptions from the terminal using
// the same services as the HTTP API.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"topup-backend/internal/app"
	"topup-backend/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "topupctl",
	Short: "Fund execution accounts and manage subscriptions",
	Long: `topupctl funds the ledger's execution account on-chain, records the
deposit with the ledger, and inspects or modifies recurring subscriptions.
Every flag can also be set through a TOPUP_<FLAG> environment variable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return v.BindPFlags(cmd.Flags())
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config.yaml")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level")

	v.SetEnvPrefix("TOPUP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		log.Fatal(err)
	}
}

// openContainer loads the configuration and wires every service
func openContainer() (*app.ServiceContainer, error) {
	if err := config.LoadConfig(v.GetString("config")); err != nil {
		return nil, err
	}
	cfg := config.AppConfig
	if level := v.GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return app.InitializeContainer(cfg, cfg.NewLogger())
}

// withContainer runs fn against a freshly wired container and tears it down
func withContainer(fn func(c *app.ServiceContainer) error) error {
	c, err := openContainer()
	if err != nil {
		return err
	}
	defer c.Cleanup()
	return fn(c)
}

func printJSON(value interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
