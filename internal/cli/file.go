package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	togglr "github.com/togglr-project/togglr-sub001"
	"github.com/togglr-project/togglr-sub001/id"
	"github.com/togglr-project/togglr-sub001/service"
)

// DefaultEnvironment is used for features that name none
const DefaultEnvironment = "production"

// featureFile is the YAML layout read by evaluate, validate and load:
//
//	features:
//	  - key: checkout
//	    environment: production
//	    master_enabled: true
//	    schedules:
//	      - kind: recurring
//	        cron: "0 9 * * 1-5"
//	        duration: 8h
//	        action: enable
//	        timezone: Europe/Berlin
type featureFile struct {
	Features []*togglr.Feature `yaml:"features"`
}

func readFeatureFile(path string) ([]*togglr.Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feature file: %w", err)
	}

	var file featureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, togglr.ErrValidation.Wrap(err, "%s is not a feature file", path)
	}

	seen := make(map[string]bool, len(file.Features))
	for i, f := range file.Features {
		if f == nil || strings.TrimSpace(f.Key) == "" {
			return nil, togglr.ErrValidation.WithArgs("features[%d] has no key", i)
		}
		if f.EnvironmentKey == "" {
			f.EnvironmentKey = DefaultEnvironment
		}
		f.ID = id.GenerateFeatureID(f.EnvironmentKey, f.Key)
		if seen[f.ID] {
			return nil, togglr.ErrValidation.WithArgs("feature %s appears twice in %s", f.Key, f.EnvironmentKey)
		}
		seen[f.ID] = true

		if f.Schedules == nil {
			f.Schedules = []*togglr.Schedule{}
		}
		for _, s := range f.Schedules {
			if s == nil {
				return nil, togglr.ErrValidation.WithArgs("feature %s has an empty schedule", f.Key)
			}
			s.FeatureID = f.ID
		}
	}
	return file.Features, nil
}

// findFeature picks one feature out of a file
func findFeature(features []*togglr.Feature, environmentKey, key string) (*togglr.Feature, error) {
	for _, f := range features {
		if f.Key == key && f.EnvironmentKey == environmentKey {
			return f, nil
		}
	}
	return nil, togglr.ErrFeatureNotFound.WithArgs("%s/%s", environmentKey, key)
}

// importFeatures stores file features through the service so every schedule
// passes validation. A feature whose schedules fail is removed again.
func importFeatures(ctx context.Context, svc *service.Service, features []*togglr.Feature, replace bool) (int, error) {
	imported := 0
	for _, f := range features {
		if replace {
			existing, err := svc.GetFeatureByKey(ctx, f.EnvironmentKey, f.Key)
			switch {
			case err == nil:
				if err := svc.DeleteFeature(ctx, existing.ID); err != nil {
					return imported, err
				}
			case !errors.Is(err, togglr.ErrFeatureNotFound):
				return imported, err
			}
		}

		created, err := svc.CreateFeature(ctx, service.CreateFeatureRequest{
			EnvironmentKey: f.EnvironmentKey,
			Key:            f.Key,
			MasterEnabled:  f.MasterEnabled,
			Enabled:        f.Enabled,
		})
		if err != nil {
			return imported, err
		}

		for _, s := range f.Schedules {
			if _, err := svc.AddSchedule(ctx, created.ID, s); err != nil {
				_ = svc.DeleteFeature(ctx, created.ID)
				return imported, fmt.Errorf("feature %s: %w", f.Key, err)
			}
		}
		imported++
	}
	return imported, nil
}
