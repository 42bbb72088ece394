package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage operator accounts (admin only)",
	}
	cmd.AddCommand(newUserListCommand())
	cmd.AddCommand(newUserCreateCommand())
	return cmd
}

func newUserListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List operator accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get("/api/v1/auth/users", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newUserCreateCommand() *cobra.Command {
	var (
		username string
		email    string
		role     string
		password string
		tenants  []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an operator account, optionally confined to specific tenants",
		Long: `Creates an account on the server. With --tenants the account only sees
and operates the listed tenants; without it the account is unscoped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				fmt.Fprintf(os.Stderr, "Password for %s: ", username)
				raw, err := term.ReadPassword(int(syscall.Stdin))
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = string(raw)
			}
			if password == "" {
				return fmt.Errorf("password cannot be empty")
			}

			body := map[string]interface{}{
				"username": username,
				"email":    email,
				"role":     role,
				"password": password,
			}
			if len(tenants) > 0 {
				body["tenant_ids"] = tenants
			}

			client := newClient()
			data, err := client.post("/api/v1/auth/users", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&role, "role", "viewer", "Role: admin, operator, viewer or service")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when omitted)")
	cmd.Flags().StringSliceVar(&tenants, "tenants", nil, "Tenant IDs the account is confined to")
	cmd.MarkFlagRequired("username")
	return cmd
}
