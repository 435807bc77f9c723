/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/catchup/internal/config"
	"github.com/friendsincode/catchup/internal/db"
	"github.com/friendsincode/catchup/internal/models"
	"github.com/friendsincode/catchup/internal/server"
	"github.com/friendsincode/catchup/internal/store"
)

var (
	itemKind   string
	itemTitle  string
	itemAt     string
	itemStatus string
	itemLimit  int
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Inspect and schedule items",
}

var itemsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Schedule a new item",
	Long: `Schedule a new pending item.

With the database source the item is written to scheduled_items. With the
Redis source the item id is added to the hook's pending sorted set.

Examples:
  # Schedule an item five minutes ago so the next sweep delivers it
  catchup items add --kind post --title "Morning digest" --at 2026-01-02T07:55:00Z
`,
	RunE: runItemsAdd,
}

var itemsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List items in the database",
	RunE:  runItemsList,
}

var itemsOverdueCmd = &cobra.Command{
	Use:   "overdue",
	Short: "List items the next sweep would pick up",
	RunE:  runItemsOverdue,
}

func init() {
	itemsAddCmd.Flags().StringVar(&itemKind, "kind", "", "Item kind (required)")
	itemsAddCmd.Flags().StringVar(&itemTitle, "title", "", "Human-readable title")
	itemsAddCmd.Flags().StringVar(&itemAt, "at", "", "Target time, RFC3339 (default: now)")
	_ = itemsAddCmd.MarkFlagRequired("kind")

	itemsListCmd.Flags().StringVar(&itemStatus, "status", "", "Filter by status (pending, delivered, failed)")
	itemsListCmd.Flags().StringVar(&itemKind, "kind", "", "Filter by kind")
	itemsListCmd.Flags().IntVar(&itemLimit, "limit", 50, "Maximum number of items")

	itemsCmd.AddCommand(itemsAddCmd)
	itemsCmd.AddCommand(itemsListCmd)
	itemsCmd.AddCommand(itemsOverdueCmd)
	rootCmd.AddCommand(itemsCmd)
}

func runItemsAdd(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	target := time.Now().UTC()
	if itemAt != "" {
		t, err := time.Parse(time.RFC3339, itemAt)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		target = t
	}
	item := models.NewScheduledItem(itemKind, itemTitle, target)

	ctx, cancel := signalContext()
	defer cancel()

	if cfg.Source == config.SourceRedis {
		rdb, err := server.ConnectRedis(cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()

		if err := store.NewRedisSource(rdb, cfg.HookName, 0, logger).Add(ctx, item.ID, item.TargetTime); err != nil {
			return err
		}
	} else {
		database, err := initDatabase()
		if err != nil {
			return err
		}
		defer db.Close(database)

		if err := store.NewItemStore(database).Create(ctx, item); err != nil {
			return err
		}
	}

	fmt.Printf("Scheduled %s (%s) at %s\n", item.ID, item.Kind, item.TargetTime.Format(time.RFC3339))
	return nil
}

func runItemsList(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	status := models.ItemStatus(itemStatus)
	if itemStatus != "" && !status.Valid() {
		return fmt.Errorf("invalid --status %q", itemStatus)
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	ctx, cancel := signalContext()
	defer cancel()

	items, err := store.NewItemStore(database).List(ctx, store.ListFilter{
		Status: status,
		Kind:   itemKind,
		Limit:  itemLimit,
	})
	if err != nil {
		return err
	}
	printItems(items)
	return nil
}

func runItemsOverdue(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	now := time.Now()

	if cfg.Source == config.SourceRedis {
		rdb, err := server.ConnectRedis(cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()

		items, err := store.NewRedisSource(rdb, cfg.HookName, 0, logger).FindOverdue(ctx, now)
		if err != nil {
			return err
		}
		for _, item := range items {
			fmt.Printf("%s\t%s\n", item.ID, item.TargetTime.Format(time.RFC3339))
		}
		fmt.Printf("%d overdue\n", len(items))
		return nil
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	items, err := store.NewGormSource(database, store.SourceOptions{Kinds: cfg.ItemKinds}, logger).FindOverdue(ctx, now)
	if err != nil {
		return err
	}
	printItems(items)
	return nil
}

func printItems(items []models.ScheduledItem) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tTARGET\tSTATUS\tATTEMPTS")
	for _, item := range items {
		status := string(item.Status)
		if status == "" {
			status = string(models.ItemStatusPending)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", item.ID, item.Kind, item.TargetTime.Format(time.RFC3339), status, item.Attempts)
	}
	_ = w.Flush()
	fmt.Printf("%d item(s)\n", len(items))
}
