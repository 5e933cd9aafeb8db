package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func loadCmd(env *environment) *cobra.Command {
	return LeafCommand{
		Use:   "load <file>",
		Short: "Import features and schedules from a YAML file into storage",
		Args:  cobra.ExactArgs(1),
		BoolFlags: []BoolFlag{
			{Name: "replace", Usage: "replace features that already exist"},
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			replace, _ := cmd.Flags().GetBool("replace")

			features, err := readFeatureFile(args[0])
			if err != nil {
				return err
			}

			s, err := env.open()
			if err != nil {
				return err
			}
			defer s.Close()

			imported, err := importFeatures(cmd.Context(), s.service, features, replace)
			if err != nil {
				return fmt.Errorf("imported %d of %d feature(s): %w", imported, len(features), err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Loaded %s feature(s) into %s\n",
				Primary(fmt.Sprint(imported)), Silent(s.config.Storage.Driver+":"+s.config.Storage.Path))
			return nil
		},
	}.Build()
}
