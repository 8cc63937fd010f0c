package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
	crmx "github.com/tanpawarit/chative-crm-assistant/agent/crm"
)

var (
	updateUserID   string
	updateProvider string
	updateID       string
	updateSets     []string
)

var updateContactCmd = &cobra.Command{
	Use:   "update-contact",
	Short: "Apply suggested field changes to one CRM contact",
	Example: `  crmchat update-contact --provider hubspot --id 123 --set jobtitle=CTO --set phone=+1555`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		updates, err := parseFieldUpdates(updateSets)
		if err != nil {
			return err
		}
		provider := contractx.Provider(strings.ToLower(strings.TrimSpace(updateProvider)))
		if !provider.Valid() {
			return fmt.Errorf("%w: unknown provider %q", contractx.ErrValidation, updateProvider)
		}

		app, err := loadAppConfig()
		if err != nil {
			return err
		}
		userID, err := requireUserID(app, updateUserID)
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
		var client contractx.ProviderClient
		for _, c := range clients {
			if c.Provider() == provider {
				client = c
			}
		}
		if client == nil {
			return fmt.Errorf("%w: %s is not configured", contractx.ErrValidation, provider)
		}

		cred, err := st.credentials.Get(ctx, userID, provider)
		if err != nil {
			return err
		}
		updated, err := crmx.ApplyUpdates(ctx, client, cred, updateID, updates)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(updated)
	},
}

func init() {
	updateContactCmd.Flags().StringVar(&updateUserID, "user", "", "user id (defaults to APP_USER_ID)")
	updateContactCmd.Flags().StringVar(&updateProvider, "provider", "", "hubspot or salesforce")
	updateContactCmd.Flags().StringVar(&updateID, "id", "", "contact id")
	updateContactCmd.Flags().StringArrayVar(&updateSets, "set", nil, "field=value, repeatable; the last value for a field wins")
	_ = updateContactCmd.MarkFlagRequired("provider")
	_ = updateContactCmd.MarkFlagRequired("id")
}

func parseFieldUpdates(sets []string) ([]contractx.FieldUpdate, error) {
	updates := make([]contractx.FieldUpdate, 0, len(sets))
	for _, s := range sets {
		field, value, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(field) == "" {
			return nil, fmt.Errorf("%w: --set expects field=value, got %q", contractx.ErrValidation, s)
		}
		updates = append(updates, contractx.FieldUpdate{Field: strings.TrimSpace(field), Value: value})
	}
	return updates, nil
}
