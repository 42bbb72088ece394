package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newTenantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants (business units)",
	}
	cmd.AddCommand(newTenantListCommand())
	cmd.AddCommand(newTenantCreateCommand())
	cmd.AddCommand(newTenantShowCommand())
	cmd.AddCommand(newTenantStatusCommand())
	cmd.AddCommand(newTenantUpdateCommand())
	cmd.AddCommand(newTenantArchiveCommand())
	cmd.AddCommand(newTenantAutopilotCommand())
	cmd.AddCommand(newTenantPolicyCommand())
	return cmd
}

func newTenantListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get("/api/v1/tenants", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newTenantCreateCommand() *cobra.Command {
	var (
		id       string
		name     string
		niche    string
		keywords []string
		persona  string
		plan     string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new tenant",
		Example: `  venturectl tenant create --name="Fit Studio" --niche=fitness \
    --keywords=home-workouts,meal-plans --persona=hustler --plan=starter`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			body := map[string]interface{}{
				"name":  name,
				"niche": niche,
			}
			if id != "" {
				body["id"] = id
			}
			if len(keywords) > 0 {
				body["keywords"] = keywords
			}
			if persona != "" {
				body["persona"] = persona
			}
			if plan != "" {
				body["plan"] = plan
			}
			data, err := client.post("/api/v1/tenants", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Tenant ID (generated when omitted)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Tenant name (required)")
	cmd.Flags().StringVar(&niche, "niche", "", "Market niche (required)")
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "Comma-separated keywords")
	cmd.Flags().StringVar(&persona, "persona", "", "Persona: coach, hustler, luxury, analyst, rebel")
	cmd.Flags().StringVar(&plan, "plan", "", "Plan: starter, growth, scale")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("niche")
	return cmd
}

func newTenantShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <tenant-id>",
		Short: "Show tenant details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get(fmt.Sprintf("/api/v1/tenants/%s", args[0]), nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newTenantStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <tenant-id>",
		Short: "Show tenant status with the latest cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get(fmt.Sprintf("/api/v1/tenants/%s/status", args[0]), nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newTenantUpdateCommand() *cobra.Command {
	var (
		name     string
		niche    string
		keywords []string
		persona  string
		plan     string
		status   string
	)
	cmd := &cobra.Command{
		Use:   "update <tenant-id>",
		Short: "Update tenant fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			body := map[string]interface{}{}
			if cmd.Flags().Changed("name") {
				body["name"] = name
			}
			if cmd.Flags().Changed("niche") {
				body["niche"] = niche
			}
			if cmd.Flags().Changed("keywords") {
				body["keywords"] = keywords
			}
			if cmd.Flags().Changed("persona") {
				body["persona"] = persona
			}
			if cmd.Flags().Changed("plan") {
				body["plan"] = plan
			}
			if cmd.Flags().Changed("status") {
				body["status"] = status
			}
			data, err := client.put(fmt.Sprintf("/api/v1/tenants/%s", args[0]), body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&niche, "niche", "", "New niche")
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "New keywords")
	cmd.Flags().StringVar(&persona, "persona", "", "New persona")
	cmd.Flags().StringVar(&plan, "plan", "", "New plan")
	cmd.Flags().StringVar(&status, "status", "", "New status: active, paused, archived")
	return cmd
}

func newTenantArchiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <tenant-id>",
		Short: "Archive a tenant (history and ledger are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.delete(fmt.Sprintf("/api/v1/tenants/%s", args[0]))
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newTenantAutopilotCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "autopilot <tenant-id> <on|off>",
		Short:   "Enable or disable autopilot",
		Args:    cobra.ExactArgs(2),
		Example: `  venturectl tenant autopilot t-fitness on`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch args[1] {
			case "on":
				enabled = true
			case "off":
				enabled = false
			default:
				return fmt.Errorf("expected on or off, got %q", args[1])
			}

			client := newClient()
			data, err := client.put(fmt.Sprintf("/api/v1/tenants/%s/autopilot", args[0]),
				map[string]bool{"enabled": enabled})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newTenantPolicyCommand() *cobra.Command {
	var (
		threshold  float64
		rate       float64
		testBudget float64
		windowDays int
		interval   time.Duration
		channels   []string
	)
	cmd := &cobra.Command{
		Use:   "policy <tenant-id>",
		Short: "Show or adjust the tenant policy",
		Long:  "Without flags the current policy is printed. Flags are merged into the stored policy and written back.",
		Args:  cobra.ExactArgs(1),
		Example: `  venturectl tenant policy t-fitness
  venturectl tenant policy t-fitness --threshold=100 --rate=0.6`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			path := fmt.Sprintf("/api/v1/tenants/%s/policy", args[0])

			data, err := client.get(path, nil)
			if err != nil {
				return err
			}

			changed := false
			for _, f := range []string{"threshold", "rate", "test-budget", "window-days", "interval", "channels"} {
				if cmd.Flags().Changed(f) {
					changed = true
					break
				}
			}
			if !changed {
				outputJSON(data)
				return nil
			}

			// Merge changed flags into the stored policy.
			var policy map[string]interface{}
			if err := json.Unmarshal(data, &policy); err != nil {
				return fmt.Errorf("failed to decode policy: %w", err)
			}
			if cmd.Flags().Changed("threshold") {
				policy["reinvest_threshold"] = threshold
			}
			if cmd.Flags().Changed("rate") {
				policy["reinvest_rate"] = rate
			}
			if cmd.Flags().Changed("test-budget") {
				policy["max_test_budget"] = testBudget
			}
			if cmd.Flags().Changed("window-days") {
				policy["window_days"] = windowDays
			}
			if cmd.Flags().Changed("interval") {
				policy["cycle_interval"] = interval.Nanoseconds()
			}
			if cmd.Flags().Changed("channels") {
				policy["channels"] = channels
			}

			data, err = client.put(path, policy)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Reinvestment profit threshold")
	cmd.Flags().Float64Var(&rate, "rate", 0, "Reinvestment rate (0..1)")
	cmd.Flags().Float64Var(&testBudget, "test-budget", 0, "Max test budget per directive")
	cmd.Flags().IntVar(&windowDays, "window-days", 0, "Trailing profit window in days")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Cycle interval (e.g. 30m, 2h)")
	cmd.Flags().StringSliceVar(&channels, "channels", nil, "Channels: content, commerce, ads, social")
	return cmd
}
