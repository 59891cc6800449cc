package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

func syncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Trigger, cancel, and watch sync runs",
	}

	var mode string
	trigger := &cobra.Command{
		Use:   "trigger <source-id>",
		Short: "Trigger a sync for a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"source_id": args[0]}
			if mode != "" {
				body["sync_mode"] = mode
			}
			var run map[string]any
			if err := postJSON("/sync", body, &run); err != nil {
				return err
			}
			cmd.Printf("Sync run %v started for source %s (%v)\n", run["id"], args[0], run["sync_type"])
			return nil
		},
	}
	trigger.Flags().StringVar(&mode, "mode", "", "sync mode: full or incremental")

	cancel := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a running sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]string
			if err := postJSON("/sync/"+args[0]+"/cancel", map[string]string{}, &resp); err != nil {
				return err
			}
			if resp["status"] == "not_supported" {
				cmd.Printf("Sync run %s is still running: its connector does not support cancel.\n", args[0])
				return nil
			}
			cmd.Printf("Sync run %s cancelled.\n", args[0])
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Stream a sync run's progress until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return streamProgress(cmd, args[0])
		},
	}

	cmd.AddCommand(trigger, cancel, status)
	return cmd
}

// streamProgress consumes the coordinator's SSE progress stream and renders
// each update on one line.
func streamProgress(cmd *cobra.Command, runID string) error {
	// Progress streams outlive the default client timeout.
	client := &http.Client{}
	resp, err := client.Get(coordinatorURL + "/sync/" + runID + "/progress")
	if err != nil {
		return fmt.Errorf("connecting to progress stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var run struct {
			Status             string `json:"status"`
			DocumentsScanned   int64  `json:"documents_scanned"`
			DocumentsProcessed int64  `json:"documents_processed"`
			DocumentsUpdated   int64  `json:"documents_updated"`
			ErrorMessage       string `json:"error_message"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &run); err != nil {
			continue
		}
		cmd.Printf("status=%s scanned=%d processed=%d updated=%d\n",
			run.Status, run.DocumentsScanned, run.DocumentsProcessed, run.DocumentsUpdated)
		if run.ErrorMessage != "" {
			cmd.Printf("error: %s\n", run.ErrorMessage)
		}
	}
	return scanner.Err()
}
