package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	togglr "github.com/togglr-project/togglr-sub001"
	"github.com/togglr-project/togglr-sub001/service"
	"github.com/togglr-project/togglr-sub001/storage/badger"
	"github.com/togglr-project/togglr-sub001/timeline"
)

func evaluateCmd(env *environment) *cobra.Command {
	return LeafCommand{
		Use:   "evaluate <feature-key>",
		Short: "Print the enabled/disabled timeline of a feature",
		Long: `Evaluate prints every state change of a feature within [from, to).
With --file the feature and its schedules are read from a YAML file and
nothing is stored; otherwise it is read from the configured storage.`,
		Args: cobra.ExactArgs(1),
		StrFlags: []StringFlag{
			{Name: "file", Usage: "YAML feature file to evaluate instead of storage"},
			{Name: "env", Usage: "environment key", Default: DefaultEnvironment},
			{Name: "from", Usage: "window start, RFC 3339 (default now)"},
			{Name: "to", Usage: "window end, RFC 3339 (default from plus the default window)"},
			{Name: "tz", Usage: "IANA zone to render timestamps in", Default: "UTC"},
		},
		BoolFlags: []BoolFlag{
			{Name: "json", Usage: "print the timeline as JSON"},
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			envKey, _ := cmd.Flags().GetString("env")
			tz, _ := cmd.Flags().GetString("tz")
			asJSON, _ := cmd.Flags().GetBool("json")

			req := service.TimelineRequest{EnvironmentKey: envKey, FeatureKey: args[0], ViewerTimezone: tz}
			var err error
			if req.From, err = timeFlag(cmd, "from"); err != nil {
				return err
			}
			if req.To, err = timeFlag(cmd, "to"); err != nil {
				return err
			}

			var resp *service.TimelineResponse
			if file != "" {
				resp, err = evaluateFile(cmd.Context(), file, req)
			} else {
				resp, err = evaluateStored(cmd.Context(), env, req)
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			return printTimeline(cmd.OutOrStdout(), envKey, args[0], resp)
		},
	}.Build()
}

// evaluateFile previews a file feature through an in-memory store. Its
// schedules are passed as overrides so they are checked as one set.
func evaluateFile(ctx context.Context, path string, req service.TimelineRequest) (*service.TimelineResponse, error) {
	features, err := readFeatureFile(path)
	if err != nil {
		return nil, err
	}
	f, err := findFeature(features, req.EnvironmentKey, req.FeatureKey)
	if err != nil {
		return nil, err
	}

	store, err := badger.NewBadgerStorage("", badger.WithInMemory())
	if err != nil {
		return nil, err
	}
	defer store.Close()

	svc := service.New(store, timeline.NewEvaluator(togglr.DefaultEvaluatorConfig()))
	if _, err := svc.CreateFeature(ctx, service.CreateFeatureRequest{
		EnvironmentKey: f.EnvironmentKey,
		Key:            f.Key,
		MasterEnabled:  f.MasterEnabled,
		Enabled:        f.Enabled,
	}); err != nil {
		return nil, err
	}

	req.OverrideSchedules = f.Schedules
	return svc.EvaluateTimeline(ctx, req)
}

func evaluateStored(ctx context.Context, env *environment, req service.TimelineRequest) (*service.TimelineResponse, error) {
	s, err := env.open()
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.service.EvaluateTimeline(ctx, req)
}

func printTimeline(w io.Writer, envKey, key string, resp *service.TimelineResponse) error {
	if _, err := fmt.Fprintf(w, "%s %s\n", Primary(key), Silent("("+envKey+")")); err != nil {
		return err
	}
	for i, ev := range resp.Events {
		marker := "  "
		if i == 0 {
			marker = Silent("@ ")
		}
		if _, err := fmt.Fprintf(w, "%s%s  %s\n", marker, ev.Instant.Format("2006-01-02 15:04 MST"), State(ev.Enabled)); err != nil {
			return err
		}
	}
	return nil
}

func timeFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, togglr.ErrValidation.Wrap(err, "--%s must be RFC 3339", name)
	}
	return &t, nil
}
