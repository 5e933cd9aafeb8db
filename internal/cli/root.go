package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCmd assembles the togglr command tree
func NewRootCmd() *cobra.Command {
	env := &environment{}

	root := &cobra.Command{
		Use:           "togglr",
		Short:         "Evaluate and run feature flag schedules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&env.configFile, "config", "", "config file (default is ./togglr.yaml)")

	root.AddCommand(
		evaluateCmd(env),
		validateCmd(),
		loadCmd(env),
		runCmd(env),
		versionCmd(),
	)
	return root
}

func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		_, _ = fmt.Fprintln(root.ErrOrStderr(), Error("Error: "+err.Error()))
	}
	return err
}
