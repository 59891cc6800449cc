package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func sourceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Manage sources",
	}

	var (
		sourceType string
		configJSON string
		interval   int64
	)
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a new source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := map[string]any{}
			if configJSON != "" {
				if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
					return fmt.Errorf("parsing --config: %w", err)
				}
			}
			body := map[string]any{
				"name":             args[0],
				"type":             sourceType,
				"config":           cfg,
				"interval_seconds": interval,
			}
			var src map[string]any
			if err := postJSON("/sources", body, &src); err != nil {
				return err
			}
			cmd.Printf("Source %v created.\n", src["id"])
			return nil
		},
	}
	add.Flags().StringVar(&sourceType, "type", "files", "source type (drive, mail, chat, wiki, tracker, web, files)")
	add.Flags().StringVar(&configJSON, "config", "", "source config as a JSON object")
	add.Flags().Int64Var(&interval, "interval", 3600, "scheduling interval in seconds")

	list := &cobra.Command{
		Use:   "list",
		Short: "List sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Sources []map[string]any `json:"sources"`
			}
			if err := getJSON("/sources", &resp); err != nil {
				return err
			}
			for _, src := range resp.Sources {
				cmd.Printf("%v  %v  type=%v status=%v\n", src["id"], src["name"], src["type"], src["sync_status"])
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <source-id>",
		Short: "Soft-delete a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deleteJSON("/sources/" + args[0]); err != nil {
				return err
			}
			cmd.Printf("Source %s removed.\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}
