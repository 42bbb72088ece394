package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newEventCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "View and stream events",
	}
	cmd.AddCommand(newEventListCommand())
	cmd.AddCommand(newEventStreamCommand())
	cmd.AddCommand(newEventAuditCommand())
	cmd.AddCommand(newEventStatsCommand())
	return cmd
}

func eventFilterParams(tenantID, eventType string, limit int) url.Values {
	params := url.Values{}
	if tenantID != "" {
		params.Set("tenant_id", tenantID)
	}
	if eventType != "" {
		params.Set("type", eventType)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	return params
}

func newEventListCommand() *cobra.Command {
	var (
		tenantID  string
		eventType string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent events from the live ring",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get("/api/v1/events", eventFilterParams(tenantID, eventType, limit))
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Filter by tenant")
	cmd.Flags().StringVar(&eventType, "type", "", "Filter by event type (e.g. cycle.completed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Number of events")
	return cmd
}

func newEventStreamCommand() *cobra.Command {
	var (
		tenantID  string
		eventType string
	)
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream events in real-time (SSE)",
		Example: `  venturectl event stream --tenant=t-fitness
  venturectl event stream --type=cycle.completed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			// Streams have no natural end; disable the client timeout.
			client.HTTP.Timeout = 0
			return client.streamSSE("/api/v1/events/stream", eventFilterParams(tenantID, eventType, 0))
		},
	}
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Filter by tenant")
	cmd.Flags().StringVar(&eventType, "type", "", "Filter by event type")
	return cmd
}

func newEventAuditCommand() *cobra.Command {
	var cycleID string
	cmd := &cobra.Command{
		Use:   "audit <tenant-id>",
		Short: "List the tenant's durable audit events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			params := url.Values{}
			if cycleID != "" {
				params.Set("cycle_id", cycleID)
			}
			data, err := client.get(fmt.Sprintf("/api/v1/tenants/%s/events", args[0]), params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&cycleID, "cycle", "", "Only events for one cycle")
	return cmd
}

func newEventStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show event bus statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get("/api/v1/events/stats", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}
