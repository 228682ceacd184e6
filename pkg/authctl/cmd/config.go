package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telekom/authcoord/pkg/authctl/output"
	"github.com/telekom/authcoord/pkg/config"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage authctl configuration",
	}
	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigViewCommand(),
	)
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		authority    string
		clientID     string
		scopes       []string
		redirectURI  string
		presentation string
		insecure     bool
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an authctl config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.configPathValue()
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists: %s", path)
				}
			}
			cfg := config.DefaultConfig()
			cfg.Authority = authority
			cfg.ClientID = clientID
			cfg.InsecureSkipTLS = insecure
			if len(scopes) > 0 {
				cfg.Scopes = scopes
			}
			if redirectURI != "" {
				cfg.RedirectURI = redirectURI
			}
			if presentation != "" {
				cfg.Presentation = presentation
			}
			if rt.tokenStorageOverride != "" {
				cfg.TokenStorage = rt.tokenStorageOverride
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Initialized config at %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&authority, "authority", "", "OIDC authority (issuer) URL")
	cmd.Flags().StringVar(&clientID, "client-id", "", "Public client ID")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Default scopes (default: openid,profile,offline_access)")
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "Loopback redirect URI (default: "+config.DefaultRedirectURI+")")
	cmd.Flags().StringVar(&presentation, "presentation", "", "Interactive presentation: system-view or embedded")
	cmd.Flags().BoolVar(&insecure, "insecure-skip-tls-verify", false, "Skip TLS verification")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config")

	_ = cmd.MarkFlagRequired("authority")
	_ = cmd.MarkFlagRequired("client-id")
	return cmd
}

func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			format, err := rt.OutputFormat(output.FormatYAML)
			if err != nil {
				return err
			}
			if format == output.FormatTable || format == output.FormatRaw {
				format = output.FormatYAML
			}
			return output.WriteObject(rt.Writer(), format, rt.cfg)
		},
	}
}
