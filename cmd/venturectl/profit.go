package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newProfitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profit",
		Short: "View profit, KPIs, and reinvestment directives",
	}
	cmd.AddCommand(newProfitShowCommand())
	cmd.AddCommand(newProfitKPIsCommand())
	cmd.AddCommand(newProfitDirectivesCommand())
	return cmd
}

func newProfitShowCommand() *cobra.Command {
	var window int
	cmd := &cobra.Command{
		Use:   "show <tenant-id>",
		Short: "Show the profit ledger summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			params := url.Values{}
			if window > 0 {
				params.Set("window", fmt.Sprintf("%d", window))
			}
			data, err := client.get(fmt.Sprintf("/api/v1/tenants/%s/profit", args[0]), params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().IntVarP(&window, "window", "w", 0, "Trailing window in days (default from server)")
	return cmd
}

func newProfitKPIsCommand() *cobra.Command {
	var window int
	cmd := &cobra.Command{
		Use:   "kpis <tenant-id>",
		Short: "Show the KPI report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			params := url.Values{}
			if window > 0 {
				params.Set("window", fmt.Sprintf("%d", window))
			}
			data, err := client.get(fmt.Sprintf("/api/v1/tenants/%s/kpis", args[0]), params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().IntVarP(&window, "window", "w", 0, "Trailing window in days (default from server)")
	return cmd
}

func newProfitDirectivesCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "directives <tenant-id>",
		Short: "List reinvestment directives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			params := url.Values{}
			if limit > 0 {
				params.Set("limit", fmt.Sprintf("%d", limit))
			}
			data, err := client.get(fmt.Sprintf("/api/v1/tenants/%s/directives", args[0]), params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of directives")
	return cmd
}
