package main

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/richardsamuels/stc/internal/config"
)

func newGenerateKeyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-key",
		Short: "Generate a fresh pre-shared key and write it into the config file",
		Long: heredoc.Doc(`
			generate-key derives a new pre-shared key and writes it into the
			"psk" field of the config named by --config, creating the file if
			it does not already exist.
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.Exists(*configPath) {
				overwrite := false
				prompt := &survey.Confirm{
					Message: fmt.Sprintf("%s already exists and has a psk. Overwrite it?", *configPath),
					Default: false,
				}
				if err := survey.AskOne(prompt, &overwrite); err != nil {
					return err
				}
				if !overwrite {
					return nil
				}
			}

			psk, err := config.GeneratePSK(config.DefaultGenerateOptions())
			if err != nil {
				return err
			}
			if err := config.WritePSK(*configPath, psk); err != nil {
				return err
			}
			fmt.Printf("wrote new pre-shared key to %s\n", *configPath)
			return nil
		},
	}
}
