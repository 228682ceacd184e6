package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/authcoord/pkg/authctl/output"
	"github.com/telekom/authcoord/pkg/coordinator"
)

func NewLoginCommand() *cobra.Command {
	var (
		scopes   []string
		embedded bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			coord, err := rt.Coordinator(cmd.Context())
			if err != nil {
				return err
			}
			if embedded {
				if err := coord.SetPresentation(coordinator.PresentationEmbedded); err != nil {
					return err
				}
			}
			result, err := coord.AcquireInteractive(cmd.Context(), requestedScopes(coord, scopes))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Signed in as %s. Token expires at %s\n",
				displayName(result.Account), result.ExpiresOn.UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scopes to request (default: configured scopes)")
	cmd.Flags().BoolVar(&embedded, "embedded", false, "Print the sign-in URL instead of opening the system browser")
	return cmd
}

func NewAccountsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List cached accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat(output.FormatTable)
			if err != nil {
				return err
			}
			coord, err := rt.Coordinator(cmd.Context())
			if err != nil {
				return err
			}
			accounts, err := coord.Accounts(cmd.Context())
			if err != nil {
				return err
			}
			switch format {
			case output.FormatTable, output.FormatRaw:
				output.WriteAccountTable(rt.Writer(), accounts)
				return nil
			default:
				return output.WriteObject(rt.Writer(), format, output.NewAccountViews(accounts))
			}
		},
	}
}

func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove every cached account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			coord, err := rt.Coordinator(cmd.Context())
			if err != nil {
				return err
			}
			err = coord.SignOut(cmd.Context())
			var cerr *coordinator.Error
			if errors.As(err, &cerr) && cerr.Kind == coordinator.KindPartialSignOut {
				for _, f := range cerr.Failures {
					_, _ = fmt.Fprintf(rt.ErrWriter(), "Could not remove %s: %v\n", displayName(f.Account), f.Err)
				}
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Signed out")
			return nil
		},
	}
}

func displayName(a coordinator.Account) string {
	if a.Username != "" {
		return a.Username
	}
	return a.ID
}
