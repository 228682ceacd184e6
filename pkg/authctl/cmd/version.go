package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/authcoord/pkg/authctl/output"
	"github.com/telekom/authcoord/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show authctl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat(output.FormatTable)
			if err != nil {
				return err
			}
			info := version.GetBuildInfo()
			switch format {
			case output.FormatJSON, output.FormatYAML:
				return output.WriteObject(rt.Writer(), format, info)
			default:
				_, _ = fmt.Fprintln(rt.Writer(), info.String())
				return nil
			}
		},
	}
}
