package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	sweepx "github.com/tanpawarit/chative-crm-assistant/agent/sweep"
	configx "github.com/tanpawarit/chative-crm-assistant/pkg/config"
	logx "github.com/tanpawarit/chative-crm-assistant/pkg/logger"
)

var sweepOnce bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Proactively refresh access tokens that are close to expiry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := loadAppConfig()
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
		refreshers := make([]sweepx.Refresher, 0, len(clients))
		for _, c := range clients {
			refreshers = append(refreshers, c.Refresher())
		}

		cfg, err := configx.New[sweepx.Config]("SWEEP")
		if err != nil {
			return err
		}
		worker, err := sweepx.NewWorker(st.credentials, *cfg, logx.Component("sweep"), refreshers...)
		if err != nil {
			return err
		}

		if sweepOnce {
			for _, r := range worker.RunOnce(ctx) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: scanned=%d refreshed=%d skipped=%d failed=%d\n",
					r.Provider, r.Scanned, r.Refreshed, r.Skipped, r.Failed)
			}
			return nil
		}

		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "run a single pass and exit")
}
