package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Register and inspect users",
}

var usersRegisterCmd = &cobra.Command{
	Use:   "register <user-id> <email>",
	Short: "Register a user or change their email",
	Long:  "Creates the user and a dedicated spreadsheet on first registration. Registering again only replaces the email.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "users")
		if err != nil {
			return err
		}
		defer env.Close()

		u, created, err := env.App.Register(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(os.Stderr, "Registered %s\n", u.UserID)
		} else {
			fmt.Fprintf(os.Stderr, "Updated email for %s\n", u.UserID)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(u)
	},
}

var usersShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show a registered user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "users")
		if err != nil {
			return err
		}
		defer env.Close()

		u, err := env.App.User(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(u)
	},
}

func init() {
	usersCmd.AddCommand(usersRegisterCmd)
	usersCmd.AddCommand(usersShowCmd)
	rootCmd.AddCommand(usersCmd)
}
