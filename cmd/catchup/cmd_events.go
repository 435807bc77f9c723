/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/friendsincode/catchup/internal/eventbus"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow sweep events published to NATS",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print sweep events from every node as they arrive",
	Long: `Subscribe to the catchup NATS subjects and print each event envelope as
one JSON line until interrupted. Requires CATCHUP_NATS_URL.`,
	RunE: runEventsTail,
}

func init() {
	eventsCmd.AddCommand(eventsTailCmd)
	rootCmd.AddCommand(eventsCmd)
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.NATSURL == "" {
		return fmt.Errorf("CATCHUP_NATS_URL is not set")
	}

	opts := []nats.Option{nats.Name("catchup-tail")}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}
	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	ctx, cancel := signalContext()
	defer cancel()

	enc := json.NewEncoder(os.Stdout)
	logger.Info().Str("url", cfg.NATSURL).Msg("tailing sweep events")
	return eventbus.Tail(ctx, nc, func(env *eventbus.Envelope) {
		_ = enc.Encode(env)
	})
}
