package main

import (
	"net/url"

	"github.com/spf13/cobra"
)

func newStrategyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Inspect and manage the strategy index",
	}
	cmd.AddCommand(newStrategyListCommand())
	cmd.AddCommand(newStrategyEvictCommand())
	cmd.AddCommand(newStrategyRebuildCommand())
	return cmd
}

func newStrategyListCommand() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scored strategy entries",
		Example: `  venturectl strategy list --tenant=t-fitness
  venturectl strategy list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			params := url.Values{}
			if tenantID != "" {
				params.Set("tenant_id", tenantID)
			}
			data, err := client.get("/api/v1/strategies", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant ID (omit for global entries only)")
	return cmd
}

// scopeKeyFlags binds the four scope key parts plus the global marker.
func scopeKeyFlags(cmd *cobra.Command, tenantID, niche, channel, kind *string, global *bool) {
	cmd.Flags().StringVarP(tenantID, "tenant", "t", "", "Tenant ID (required unless --global)")
	cmd.Flags().StringVar(niche, "niche", "", "Niche (required)")
	cmd.Flags().StringVar(channel, "channel", "", "Channel: content, commerce, ads, social (required)")
	cmd.Flags().StringVar(kind, "kind", "", "Kind: ebook, course, template, tool, bundle (required)")
	cmd.Flags().BoolVar(global, "global", false, "Address the cross-tenant aggregate")
	cmd.MarkFlagRequired("niche")
	cmd.MarkFlagRequired("channel")
	cmd.MarkFlagRequired("kind")
}

func newStrategyEvictCommand() *cobra.Command {
	var (
		tenantID string
		niche    string
		channel  string
		kind     string
		global   bool
	)
	cmd := &cobra.Command{
		Use:     "evict",
		Short:   "Evict one entry from the index (the ledger keeps its history)",
		Example: `  venturectl strategy evict --tenant=t-fitness --niche=fitness --channel=content --kind=ebook`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.post("/api/v1/strategies/evict", map[string]interface{}{
				"tenant_id": tenantID,
				"niche":     niche,
				"channel":   channel,
				"kind":      kind,
				"global":    global,
			})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	scopeKeyFlags(cmd, &tenantID, &niche, &channel, &kind, &global)
	return cmd
}

func newStrategyRebuildCommand() *cobra.Command {
	var (
		tenantID string
		niche    string
		channel  string
		kind     string
		global   bool
	)
	cmd := &cobra.Command{
		Use:     "rebuild",
		Short:   "Rebuild one entry by replaying the experience ledger",
		Example: `  venturectl strategy rebuild --tenant=t-fitness --niche=fitness --channel=content --kind=ebook`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.post("/api/v1/strategies/rebuild", map[string]interface{}{
				"tenant_id": tenantID,
				"niche":     niche,
				"channel":   channel,
				"kind":      kind,
				"global":    global,
			})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	scopeKeyFlags(cmd, &tenantID, &niche, &channel, &kind, &global)
	return cmd
}
