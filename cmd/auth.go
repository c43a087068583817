package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Check credentials against the court booking system",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Log in with the configured credentials and print the account id",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			client := a.courtClient()
			if !client.Authenticate(context.Background()) {
				return errors.New("authentication failed (check COURT_USERNAME / COURT_PASSWORD / COURT_API_TOKEN)")
			}
			s, _ := client.Session()
			fmt.Fprintf(cmd.OutOrStdout(), "authenticated: account_id=%s\n", s.AccountID)
			return nil
		},
	})
	return cmd
}
