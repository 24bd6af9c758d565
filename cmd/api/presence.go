package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"beacon-chat/internal/presence"
	"beacon-chat/internal/redis"

	"github.com/spf13/cobra"
)

func init() {
	presenceCmd := &cobra.Command{
		Use:   "presence",
		Short: "Inspect and maintain the presence directory",
	}

	var maxAge time.Duration
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove connections whose heartbeat is stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l := bootstrap()
			defer l.Sync()

			age := cfg.PresenceMaxAge
			if maxAge > 0 {
				age = maxAge
			}

			rdb, err := redis.Connect(cmd.Context(), redisConfig(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = rdb.Close() }()

			store := redis.NewPresenceStore(rdb, redis.NewPublisher(rdb))
			n, err := presence.NewSweeper(store, nil, cfg.PresenceSweepInterval, age, l).SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d users went offline\n", n)
			return nil
		},
	}
	sweepCmd.Flags().DurationVar(&maxAge, "max-age", 0, "heartbeat age after which a connection is dropped (default PRESENCE_MAX_AGE)")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print presence changes as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l := bootstrap()
			defer l.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			rdb, err := redis.Connect(ctx, redisConfig(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = rdb.Close() }()

			out := cmd.OutOrStdout()
			err = redis.NewSubscriber(rdb).Subscribe(ctx, []string{redis.PresenceChannelPattern()}, func(channel string, payload []byte) {
				var ev redis.PresenceEvent
				if json.Unmarshal(payload, &ev) != nil {
					return
				}
				fmt.Fprintf(out, "%s %s online=%t\n", ev.OccurredAt.Format("15:04:05"), ev.UserID, ev.IsOnline)
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	presenceCmd.AddCommand(sweepCmd, watchCmd)
	rootCmd.AddCommand(presenceCmd)
}
