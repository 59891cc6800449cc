package main

import (
	"github.com/spf13/cobra"
)

func schedulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schedules",
		Short: "List sources due for sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Due []struct {
					SourceID   string `json:"source_id"`
					Name       string `json:"name"`
					Type       string `json:"type"`
					NextSyncAt string `json:"next_sync_at"`
				} `json:"due"`
			}
			if err := getJSON("/schedules", &resp); err != nil {
				return err
			}
			if len(resp.Due) == 0 {
				cmd.Println("No sources due.")
				return nil
			}
			for _, d := range resp.Due {
				next := d.NextSyncAt
				if next == "" {
					next = "never synced"
				}
				cmd.Printf("%s  %s  type=%s next=%s\n", d.SourceID, d.Name, d.Type, next)
			}
			return nil
		},
	}
}
