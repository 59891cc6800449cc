package main

import (
	"github.com/spf13/cobra"
)

func connectorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "List registered connector workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Connectors []struct {
					Type    string `json:"type"`
					URL     string `json:"url"`
					Healthy bool   `json:"healthy"`
					Error   string `json:"error"`
				} `json:"connectors"`
			}
			if err := getJSON("/connectors", &resp); err != nil {
				return err
			}
			for _, c := range resp.Connectors {
				state := "healthy"
				if !c.Healthy {
					state = "unreachable: " + c.Error
				}
				cmd.Printf("%s  %s  %s\n", c.Type, c.URL, state)
			}
			return nil
		},
	}
}
