package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	registerPIN   string
	registerFirst string
	registerLast  string
	signinPIN     string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	Args:  cobra.NoArgs,
	RunE:  runRegister,
}

var signinCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign in with your PIN",
	Args:  cobra.NoArgs,
	RunE:  runSignin,
}

var signoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Sign out",
	Args:  cobra.NoArgs,
	RunE:  runSignout,
}

func init() {
	registerCmd.Flags().StringVar(&registerPIN, "pin", "", "PIN used to sign in (at least 6 digits)")
	registerCmd.Flags().StringVar(&registerFirst, "first", "", "First name")
	registerCmd.Flags().StringVar(&registerLast, "last", "", "Last name")
	signinCmd.Flags().StringVar(&signinPIN, "pin", "", "Your PIN")
}

func runRegister(cmd *cobra.Command, args []string) error {
	return withTracker(cmd, func(ctx context.Context, t tracker) error {
		if _, err := t.Register(ctx, registerPIN, registerFirst, registerLast); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Account created!")
		return nil
	})
}

func runSignin(cmd *cobra.Command, args []string) error {
	return withTracker(cmd, func(ctx context.Context, t tracker) error {
		if _, err := t.SignIn(ctx, signinPIN); err != nil {
			return err
		}
		p, err := t.Profile(ctx)
		if err != nil {
			return err
		}
		if p.Username == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "Signed in.")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s.\n", p.Username)
		return nil
	})
}

func runSignout(cmd *cobra.Command, args []string) error {
	return withTracker(cmd, func(ctx context.Context, t tracker) error {
		if err := t.SignOut(ctx); err != nil {
			return &exitError{code: 2, err: err}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	})
}
