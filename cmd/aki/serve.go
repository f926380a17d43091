package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the follow-up scheduler as a daemon",
		Long:  "Run headless: drain due follow-ups on the configured cron cadence and log outbound proactive messages for the transport layer to pick up.",
		Example: strings.Join([]string{
			"  aki serve",
			"  aki serve --debug",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(debug bool) error {
	rt, err := buildRuntime(debug)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.startScheduler(ctx)

	go func() {
		for {
			msg, ok := rt.bus.ConsumeOutbound(ctx)
			if !ok {
				return
			}
			rt.log.Info().
				Str("user_id", msg.UserID).
				Str("kind", msg.Kind).
				Str("text", msg.Text).
				Msg("outbound message")
		}
	}()

	rt.log.Info().
		Str("cron", rt.cfg.Scheduler.Cron).
		Str("db", rt.cfg.DBFile()).
		Msg("scheduler running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	rt.log.Info().Msg("shutting down")
	return nil
}
