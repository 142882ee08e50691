package main

import (
	"fmt"

	"github.com/Kundhave/Sakhi/internal/app"
	"github.com/Kundhave/Sakhi/internal/catalog"
	"github.com/Kundhave/Sakhi/internal/store"
	"github.com/spf13/cobra"
)

// rescoreCmd runs the nightly profile refresh once, outside the server.
func rescoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rescore",
		Short: "Recompute every member's credit score and scheme eligibility once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			if concurrency <= 0 {
				concurrency = cfg.ScoreRefreshConcurrency
			}

			messages, err := catalog.Load()
			if err != nil {
				return err
			}

			dbpool, err := openPool(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer dbpool.Close()

			publisher, brokerConnected := newPublisher(cfg, logger)
			defer publisher.Close()
			telegramClient := newTelegramClient(cfg, logger)
			sender := newOutboundSender(cfg, publisher, brokerConnected, telegramClient, logger)

			repository := store.NewPostgresRepository(dbpool)
			events := app.NewEventBus(publisher, cfg.EventsExchange, logger)
			scores := app.NewScoreEngine(repository, events, logger)
			eligibility := app.NewEligibilityEngine(repository, sender, messages, events, logger)
			refresher := app.NewProfileRefresher(scores, eligibility, logger)

			refreshed, err := app.NewJobs(repository, refresher, concurrency, logger).RefreshAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d member(s)\n", refreshed)
			return nil
		},
	}

	cmd.Flags().Int("concurrency", 0, "Members refreshed in parallel (defaults to SCORE_REFRESH_CONCURRENCY)")
	return cmd
}
