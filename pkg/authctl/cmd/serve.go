package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telekom/authcoord/pkg/broker"
	"github.com/telekom/authcoord/pkg/ratelimit"
)

func NewServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tokens to local tools over a loopback HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			coord, err := rt.Coordinator(cmd.Context())
			if err != nil {
				return err
			}
			logger, err := rt.Logger()
			if err != nil {
				return err
			}
			if listen == "" {
				listen = rt.cfg.Broker.Listen
			}
			tokenLimit := ratelimit.DefaultTokenConfig()
			if rt.cfg.Broker.Rate > 0 {
				tokenLimit.Rate = rt.cfg.Broker.Rate
			}
			if rt.cfg.Broker.Burst > 0 {
				tokenLimit.Burst = rt.cfg.Broker.Burst
			}

			srv, err := broker.New(coord, broker.Options{
				Listen:     listen,
				TokenLimit: tokenLimit,
				Logger:     logger.Named("broker"),
				Debug:      rt.verbose,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Loopback address to listen on (default: broker.listen from config)")
	return cmd
}
