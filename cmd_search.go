package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"
	fanoutx "github.com/tanpawarit/chative-crm-assistant/agent/fanout"
	configx "github.com/tanpawarit/chative-crm-assistant/pkg/config"
	logx "github.com/tanpawarit/chative-crm-assistant/pkg/logger"
)

var searchUserID string

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search contacts across every connected CRM and print the merged list as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := loadAppConfig()
		if err != nil {
			return err
		}
		userID, err := requireUserID(app, searchUserID)
		if err != nil {
			return err
		}
		st, err := openStores(ctx, app)
		if err != nil {
			return err
		}
		defer st.Close()

		clients, err := buildProviders(st.credentials)
		if err != nil {
			return err
		}
		fanoutCfg, err := configx.New[fanoutx.Config]("FANOUT")
		if err != nil {
			return err
		}
		orchestrator, err := fanoutx.New(*fanoutCfg, logx.Component("fanout"), asProviderClients(clients)...)
		if err != nil {
			return err
		}
		creds, err := orchestrator.LoadCredentials(ctx, st.credentials, userID)
		if err != nil {
			return err
		}

		contacts, err := orchestrator.Search(ctx, creds, strings.Join(args, " "))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(contacts)
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchUserID, "user", "", "user id (defaults to APP_USER_ID)")
}
