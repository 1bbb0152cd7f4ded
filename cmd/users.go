package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"authcore/internal/service"

	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE:  listUsers,
}

var usersUnlockCmd = &cobra.Command{
	Use:   "unlock <email>",
	Short: "Clear the lockout of a user",
	Args:  cobra.ExactArgs(1),
	RunE:  unlockUser,
}

var usersRotateCmd = &cobra.Command{
	Use:   "rotate-otp-secrets",
	Short: "Re-encrypt every TOTP secret with the primary key",
	RunE:  rotateOTPSecrets,
}

var usersCleanupCmd = &cobra.Command{
	Use:   "cleanup-tokens",
	Short: "Delete expired remember-me and verification tokens",
	RunE:  cleanupTokens,
}

var (
	listScope  string
	listLimit  int
	listOffset int
)

func init() {
	usersListCmd.Flags().StringVar(&listScope, "scope", "", "recent, admins or confirmed")
	usersListCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum rows")
	usersListCmd.Flags().IntVar(&listOffset, "offset", 0, "Rows to skip")

	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersUnlockCmd)
	usersCmd.AddCommand(usersRotateCmd)
	usersCmd.AddCommand(usersCleanupCmd)
	rootCmd.AddCommand(usersCmd)
}

// withApp runs fn against an app whose notifications are only logged.
func withApp(fn func(a *app) error) error {
	a, err := newApp(cfg, logger, service.LogMailer{Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func listUsers(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		users, err := a.auth.ListUsers(cmd.Context(), listScope, listLimit, listOffset)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tUSERNAME\tADMIN\tCONFIRMED\tCREATED")
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\n",
				u.ID, u.Email, u.Account.Username, u.Admin, u.IsConfirmed(), u.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	})
}

func unlockUser(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		if err := a.auth.UnlockUserByEmail(cmd.Context(), args[0], service.ClientInfo{}); err != nil {
			return err
		}
		fmt.Printf("unlocked %s\n", args[0])
		return nil
	})
}

func rotateOTPSecrets(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		rotated, err := a.auth.RotateOTPSecrets(cmd.Context())
		if err != nil {
			return fmt.Errorf("rotated %d secrets before failing: %w", rotated, err)
		}
		fmt.Printf("rotated %d secrets\n", rotated)
		return nil
	})
}

func cleanupTokens(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		remembered, err := a.auth.CleanupRememberTokens(cmd.Context())
		if err != nil {
			return err
		}
		verification, err := a.auth.CleanupVerificationTokens(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("removed %d remember tokens and %d verification tokens\n", remembered, verification)
		return nil
	})
}
