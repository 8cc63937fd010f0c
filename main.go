package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	configx "github.com/tanpawarit/chative-crm-assistant/pkg/config"
	logx "github.com/tanpawarit/chative-crm-assistant/pkg/logger"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:           "crmchat",
	Short:         "Chat about HubSpot and Salesforce contacts",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configx.SetEnvFile(envFile)
		logCfg, err := configx.New[logx.Config]("LOG")
		if err != nil {
			return err
		}
		logx.Init(*logCfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "path to .env file")
	rootCmd.AddCommand(chatCmd, searchCmd, sweepCmd, migrateCmd, updateContactCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
