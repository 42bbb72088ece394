package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

func newCycleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run and inspect business cycles",
	}
	cmd.AddCommand(newCycleStartCommand())
	cmd.AddCommand(newCycleCancelCommand())
	cmd.AddCommand(newCycleListCommand())
	cmd.AddCommand(newCycleLatestCommand())
	cmd.AddCommand(newCycleShowCommand())
	return cmd
}

func newCycleStartCommand() *cobra.Command {
	var (
		name     string
		kind     string
		niche    string
		price    float64
		adBudget float64
		keywords []string
	)
	cmd := &cobra.Command{
		Use:   "start <tenant-id>",
		Short: "Start a cycle now, optionally with a strategy override",
		Long:  "Blocks until the cycle finishes and prints the cycle record. Without override flags the decision engine picks the strategy.",
		Args:  cobra.ExactArgs(1),
		Example: `  venturectl cycle start t-fitness
  venturectl cycle start t-fitness --name="summer ebook" --kind=ebook --price=19`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			// The server replies when the cycle completes, which can take
			// up to the configured cycle deadline.
			client.HTTP.Timeout = 15 * time.Minute

			var body interface{}
			if name != "" || kind != "" {
				body = map[string]interface{}{
					"strategy": map[string]interface{}{
						"name":      name,
						"kind":      kind,
						"niche":     niche,
						"price":     price,
						"ad_budget": adBudget,
						"keywords":  keywords,
					},
				}
			}
			data, err := client.post(fmt.Sprintf("/api/v1/tenants/%s/cycle", args[0]), body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Override strategy name")
	cmd.Flags().StringVar(&kind, "kind", "", "Override kind: ebook, course, template, tool, bundle")
	cmd.Flags().StringVar(&niche, "niche", "", "Override niche (defaults to the tenant's)")
	cmd.Flags().Float64Var(&price, "price", 0, "Override price")
	cmd.Flags().Float64Var(&adBudget, "ad-budget", 0, "Override ad budget")
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "Override keywords")
	return cmd
}

func newCycleCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <tenant-id>",
		Short: "Cancel the tenant's running cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.delete(fmt.Sprintf("/api/v1/tenants/%s/cycle", args[0]))
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newCycleListCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <tenant-id>",
		Short: "List recent cycles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			params := url.Values{}
			if limit > 0 {
				params.Set("limit", fmt.Sprintf("%d", limit))
			}
			data, err := client.get(fmt.Sprintf("/api/v1/tenants/%s/cycles", args[0]), params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of cycles")
	return cmd
}

func newCycleLatestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "latest <tenant-id>",
		Short: "Show the most recent cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get(fmt.Sprintf("/api/v1/tenants/%s/cycles/latest", args[0]), nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newCycleShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <tenant-id> <cycle-id>",
		Short: "Show one cycle record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get(fmt.Sprintf("/api/v1/tenants/%s/cycles/%s", args[0], args[1]), nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}
