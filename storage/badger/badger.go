package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/togglr-project/togglr-sub001/storage"
)

// BadgerStorage implements the Storage interface using BadgerDB
type BadgerStorage struct {
	db *badger.DB
}

// Option adjusts the badger options before the database is opened
type Option func(*badger.Options)

// WithInMemory keeps the whole database in memory. Path is ignored.
func WithInMemory() Option {
	return func(o *badger.Options) {
		o.Dir, o.ValueDir = "", ""
		o.InMemory = true
	}
}

// WithLogger routes badger's own logging to l
func WithLogger(l badger.Logger) Option {
	return func(o *badger.Options) {
		o.Logger = l
	}
}

// NewBadgerStorage creates a new BadgerDB storage instance
func NewBadgerStorage(path string, opts ...Option) (*BadgerStorage, error) {
	options := badger.DefaultOptions(path)
	options.Logger = nil // Disable default logging
	for _, opt := range opts {
		opt(&options)
	}

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &BadgerStorage{db: db}, nil
}

// Hierarchical key schema implementation
func featureKey(id string) []byte {
	return []byte(fmt.Sprintf("feature/%s", id))
}

func featurePrefix(id string) []byte {
	return []byte(fmt.Sprintf("feature/%s/", id))
}

func scheduleKey(featureID, scheduleID string) []byte {
	return []byte(fmt.Sprintf("feature/%s/schedule/%s", featureID, scheduleID))
}

func transitionKey(featureID, transitionID string) []byte {
	return []byte(fmt.Sprintf("feature/%s/transition/%s", featureID, transitionID))
}

// Secondary indexes map a lookup key to the owning feature ID
func flagKeyIndex(environmentKey, key string) []byte {
	return []byte(fmt.Sprintf("key/%s/%s", environmentKey, key))
}

func scheduleIndex(scheduleID string) []byte {
	return []byte(fmt.Sprintf("schedule/%s", scheduleID))
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getString(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

func notFound(err error, what, id string) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, storage.ErrNotFound)
	}
	return err
}

// Feature operations

func (s *BadgerStorage) CreateFeature(ctx context.Context, feature *storage.Feature) error {
	return s.db.Update(func(txn *badger.Txn) error {
		found, err := exists(txn, featureKey(feature.ID))
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("feature %s: %w", feature.ID, storage.ErrAlreadyExists)
		}

		index := flagKeyIndex(feature.EnvironmentKey, feature.Key)
		found, err = exists(txn, index)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("feature %s/%s: %w", feature.EnvironmentKey, feature.Key, storage.ErrAlreadyExists)
		}

		now := time.Now()
		if feature.CreatedAt.IsZero() {
			feature.CreatedAt = now
		}
		feature.UpdatedAt = now

		if err := setJSON(txn, featureKey(feature.ID), feature); err != nil {
			return err
		}
		return txn.Set(index, []byte(feature.ID))
	})
}

func (s *BadgerStorage) GetFeature(ctx context.Context, featureID string) (*storage.Feature, error) {
	var feature storage.Feature

	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, featureKey(featureID), &feature)
	})
	if err != nil {
		return nil, notFound(err, "feature", featureID)
	}

	return &feature, nil
}

func (s *BadgerStorage) GetFeatureByKey(ctx context.Context, environmentKey, key string) (*storage.Feature, error) {
	var feature storage.Feature

	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getString(txn, flagKeyIndex(environmentKey, key))
		if err != nil {
			return err
		}
		return getJSON(txn, featureKey(id), &feature)
	})
	if err != nil {
		return nil, notFound(err, "feature", environmentKey+"/"+key)
	}

	return &feature, nil
}

func (s *BadgerStorage) UpdateFeature(ctx context.Context, feature *storage.Feature) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var current storage.Feature
		if err := getJSON(txn, featureKey(feature.ID), &current); err != nil {
			return notFound(err, "feature", feature.ID)
		}

		// Environment and key are identity; keep the index stable
		feature.EnvironmentKey = current.EnvironmentKey
		feature.Key = current.Key
		feature.CreatedAt = current.CreatedAt
		feature.Version = current.Version + 1
		feature.UpdatedAt = time.Now()

		return setJSON(txn, featureKey(feature.ID), feature)
	})
}

// DeleteFeature removes the feature together with every schedule and
// transition stored under it
func (s *BadgerStorage) DeleteFeature(ctx context.Context, featureID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var feature storage.Feature
		if err := getJSON(txn, featureKey(featureID), &feature); err != nil {
			return notFound(err, "feature", featureID)
		}

		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.Prefix = featurePrefix(featureID)
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			keys = append(keys, key)

			if id, ok := strings.CutPrefix(string(key), string(opts.Prefix)+"schedule/"); ok {
				keys = append(keys, scheduleIndex(id))
			}
		}
		it.Close()

		keys = append(keys, featureKey(featureID), flagKeyIndex(feature.EnvironmentKey, feature.Key))
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStorage) ListFeatures(ctx context.Context) ([]*storage.Feature, error) {
	var features []*storage.Feature

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("feature/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())

			// Skip schedules and transitions
			if strings.Count(key, "/") > 1 {
				continue
			}

			err := item.Value(func(val []byte) error {
				var feature storage.Feature
				if err := json.Unmarshal(val, &feature); err != nil {
					return err
				}
				features = append(features, &feature)
				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})

	return features, err
}

// Schedule operations

func (s *BadgerStorage) CreateSchedule(ctx context.Context, schedule *storage.Schedule) error {
	return s.db.Update(func(txn *badger.Txn) error {
		found, err := exists(txn, featureKey(schedule.FeatureID))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("feature %s: %w", schedule.FeatureID, storage.ErrNotFound)
		}

		found, err = exists(txn, scheduleIndex(schedule.ID))
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("schedule %s: %w", schedule.ID, storage.ErrAlreadyExists)
		}

		now := time.Now()
		if schedule.CreatedAt.IsZero() {
			schedule.CreatedAt = now
		}
		schedule.UpdatedAt = now

		if err := setJSON(txn, scheduleKey(schedule.FeatureID, schedule.ID), schedule); err != nil {
			return err
		}
		return txn.Set(scheduleIndex(schedule.ID), []byte(schedule.FeatureID))
	})
}

func (s *BadgerStorage) GetSchedule(ctx context.Context, scheduleID string) (*storage.Schedule, error) {
	var schedule storage.Schedule

	err := s.db.View(func(txn *badger.Txn) error {
		featureID, err := getString(txn, scheduleIndex(scheduleID))
		if err != nil {
			return err
		}
		return getJSON(txn, scheduleKey(featureID, scheduleID), &schedule)
	})
	if err != nil {
		return nil, notFound(err, "schedule", scheduleID)
	}

	return &schedule, nil
}

// UpdateSchedule replaces a schedule in full. ID, owner and CreatedAt are
// immutable.
func (s *BadgerStorage) UpdateSchedule(ctx context.Context, schedule *storage.Schedule) error {
	return s.db.Update(func(txn *badger.Txn) error {
		featureID, err := getString(txn, scheduleIndex(schedule.ID))
		if err != nil {
			return notFound(err, "schedule", schedule.ID)
		}

		var current storage.Schedule
		if err := getJSON(txn, scheduleKey(featureID, schedule.ID), &current); err != nil {
			return notFound(err, "schedule", schedule.ID)
		}

		schedule.FeatureID = featureID
		schedule.CreatedAt = current.CreatedAt
		schedule.UpdatedAt = time.Now()

		return setJSON(txn, scheduleKey(featureID, schedule.ID), schedule)
	})
}

func (s *BadgerStorage) DeleteSchedule(ctx context.Context, scheduleID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		featureID, err := getString(txn, scheduleIndex(scheduleID))
		if err != nil {
			return notFound(err, "schedule", scheduleID)
		}

		if err := txn.Delete(scheduleKey(featureID, scheduleID)); err != nil {
			return err
		}
		return txn.Delete(scheduleIndex(scheduleID))
	})
}

func (s *BadgerStorage) ListSchedulesByFeatureID(ctx context.Context, featureID string) ([]*storage.Schedule, error) {
	var schedules []*storage.Schedule

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(fmt.Sprintf("feature/%s/schedule/", featureID))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var schedule storage.Schedule
				if err := json.Unmarshal(val, &schedule); err != nil {
					return err
				}
				schedules = append(schedules, &schedule)
				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(schedules, func(i, j int) bool {
		return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
	})
	return schedules, nil
}

// Transition operations

func (s *BadgerStorage) CreateTransition(ctx context.Context, transition *storage.Transition) error {
	return s.db.Update(func(txn *badger.Txn) error {
		found, err := exists(txn, featureKey(transition.FeatureID))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("feature %s: %w", transition.FeatureID, storage.ErrNotFound)
		}

		// Atomic create-if-not-exists
		key := transitionKey(transition.FeatureID, transition.ID)
		found, err = exists(txn, key)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("transition %s: %w", transition.ID, storage.ErrAlreadyExists)
		}

		return setJSON(txn, key, transition)
	})
}

func (s *BadgerStorage) ListTransitionsByFeatureID(ctx context.Context, featureID string) ([]*storage.Transition, error) {
	var transitions []*storage.Transition

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(fmt.Sprintf("feature/%s/transition/", featureID))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var transition storage.Transition
				if err := json.Unmarshal(val, &transition); err != nil {
					return err
				}
				transitions = append(transitions, &transition)
				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(transitions, func(i, j int) bool {
		return transitions[i].ScheduledAt.Before(transitions[j].ScheduledAt)
	})
	return transitions, nil
}

// Close closes the database connection
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}
