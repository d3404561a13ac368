package main

import (
	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/richardsamuels/stc/internal/build"
)

func newRootCmd() *cobra.Command {
	var configPath string
	var allowInsecureTransport bool

	root := &cobra.Command{
		Use:           "stc",
		Short:         "Reverse TCP tunnel client",
		Version:       build.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: heredoc.Doc(`
			stc maintains a long-lived control connection to a tunnel server,
			which publishes one or more public ports on stc's behalf. Traffic
			arriving at a published port is multiplexed over the control
			connection and forwarded to a local backend.
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, allowInsecureTransport)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "stc.toml", "path to the client's TOML configuration")
	root.PersistentFlags().BoolVar(&allowInsecureTransport, "allow-insecure-transport", false, "disable TLS on the control channel")

	root.AddCommand(newGenerateKeyCmd(&configPath))

	return root
}
