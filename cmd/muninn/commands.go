package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/muninn/internal/config"
)

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show combined memory statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}

		var stats any
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

// --- events ---

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		eventType, _ := cmd.Flags().GetString("type")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/events/recent?limit=%d", limit)
		if eventType != "" {
			path += "&type=" + url.QueryEscape(eventType)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var events []struct {
			ID           int64  `json:"id"`
			EventType    string `json:"event_type"`
			Description  string `json:"description"`
			TimestampISO string `json:"timestamp_iso"`
		}
		if err := decodeJSON(resp, &events); err != nil {
			return err
		}

		if len(events) == 0 {
			fmt.Println("No events found.")
			return nil
		}

		for _, e := range events {
			desc := e.Description
			if len(desc) > 80 {
				desc = desc[:80] + "..."
			}
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, e.TimestampISO),
				colorize(colorBold, e.EventType),
				desc,
			)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().Int("limit", 10, "maximum number of events to list")
	eventsCmd.Flags().String("type", "", "only show events of this type")
}

// --- timeline ---

var timelineCmd = &cobra.Command{
	Use:   "timeline <email>",
	Short: "Show interaction timeline for a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/contacts/%s/timeline", url.PathEscape(args[0]))
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var timeline any
		if err := decodeJSON(resp, &timeline); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(timeline)
	},
}

// --- reindex ---

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Index records that missed semantic indexing",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Reindexing unindexed records...")
		resp, err := client.post(cmd.Context(), "/reindex", nil)
		if err != nil {
			return err
		}

		var report struct {
			EventsIndexed       int `json:"events_indexed"`
			DecisionsIndexed    int `json:"decisions_indexed"`
			InteractionsIndexed int `json:"interactions_indexed"`
			Failed              int `json:"failed"`
		}
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		total := report.EventsIndexed + report.DecisionsIndexed + report.InteractionsIndexed
		if report.Failed > 0 {
			printWarning("%d records could not be indexed", report.Failed)
		}
		printSuccess("Indexed %d records (%d events, %d decisions, %d interactions)",
			total, report.EventsIndexed, report.DecisionsIndexed, report.InteractionsIndexed)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
