package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/authcoord/pkg/authctl/output"
	"github.com/telekom/authcoord/pkg/coordinator"
)

func NewTokenCommand() *cobra.Command {
	var (
		scopes      []string
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an access token, acquired silently",
		Long: `Print an access token for the default account.

The token is served from the cache or refreshed without user interaction.
When that is not possible the command fails with "interaction required",
unless --interactive is given, in which case a sign-in is started.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat(output.FormatRaw)
			if err != nil {
				return err
			}
			coord, err := rt.Coordinator(cmd.Context())
			if err != nil {
				return err
			}
			requested := requestedScopes(coord, scopes)

			result, err := coord.AcquireSilent(cmd.Context(), requested)
			if err != nil && interactive && errors.Is(err, coordinator.ErrInteractionRequired) {
				result, err = coord.AcquireInteractive(cmd.Context(), requested)
			}
			if err != nil {
				return err
			}

			switch format {
			case output.FormatRaw:
				_, err = fmt.Fprintln(rt.Writer(), result.AccessToken)
				return err
			case output.FormatTable:
				output.WriteTokenTable(rt.Writer(), result)
				return nil
			default:
				return output.WriteObject(rt.Writer(), format, output.NewTokenView(result, true))
			}
		},
	}

	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scopes to request (default: configured scopes)")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "Sign in interactively when a silent acquisition is not possible")
	return cmd
}
