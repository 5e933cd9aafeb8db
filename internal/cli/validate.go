package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	togglr "github.com/togglr-project/togglr-sub001"
	"github.com/togglr-project/togglr-sub001/validation"
)

func validateCmd() *cobra.Command {
	return LeafCommand{
		Use:   "validate <file>",
		Short: "Check every schedule in a YAML feature file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			features, err := readFeatureFile(args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			validator := validation.NewValidator(nil)
			failed := 0
			for _, f := range features {
				label := fmt.Sprintf("%s %s", f.Key, Silent("("+f.EnvironmentKey+")"))
				vs := validator.ValidateSet(f.Schedules)
				if len(vs) == 0 {
					_, _ = fmt.Fprintf(w, "%s %s %s\n", Info("ok"), label, Silent(drivenBy(f)))
					continue
				}
				failed++
				_, _ = fmt.Fprintf(w, "%s %s\n", Error("invalid"), label)
				for _, v := range vs {
					_, _ = fmt.Fprintf(w, "    %s: %s %s\n", v.Field, v.Message, Warning("["+string(v.Kind)+"]"))
				}
			}

			if failed > 0 {
				return togglr.ErrValidation.WithArgs("%d of %d feature(s) failed", failed, len(features))
			}
			return nil
		},
	}.Build()
}

// drivenBy describes what switches a valid feature
func drivenBy(f *togglr.Feature) string {
	if r := f.Recurring(); r != nil {
		return fmt.Sprintf("%s %q for %s in %s", r.Action, r.CronExpr, r.CronDuration, r.Timezone)
	}
	shots := f.OneShots()
	if len(shots) == 0 {
		return "manual"
	}
	return fmt.Sprintf("%d one-shot window(s) from %s", len(shots), shots[0].StartsAt.UTC().Format(time.RFC3339))
}
