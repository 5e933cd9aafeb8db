package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by create operations on an existing record
	ErrAlreadyExists = errors.New("already exists")
)

// Storage defines the interface for persisting features, their schedules
// and the transitions applied to them
type Storage interface {
	// Feature operations
	CreateFeature(ctx context.Context, feature *Feature) error
	GetFeature(ctx context.Context, featureID string) (*Feature, error)
	GetFeatureByKey(ctx context.Context, environmentKey, key string) (*Feature, error)
	UpdateFeature(ctx context.Context, feature *Feature) error
	DeleteFeature(ctx context.Context, featureID string) error
	ListFeatures(ctx context.Context) ([]*Feature, error)

	// Schedule operations
	CreateSchedule(ctx context.Context, schedule *Schedule) error
	GetSchedule(ctx context.Context, scheduleID string) (*Schedule, error)
	UpdateSchedule(ctx context.Context, schedule *Schedule) error
	DeleteSchedule(ctx context.Context, scheduleID string) error
	ListSchedulesByFeatureID(ctx context.Context, featureID string) ([]*Schedule, error)

	// Transition operations. CreateTransition is create-if-not-exists so a
	// transition is recorded once no matter how many nodes apply it.
	CreateTransition(ctx context.Context, transition *Transition) error
	ListTransitionsByFeatureID(ctx context.Context, featureID string) ([]*Transition, error)

	// Close closes the storage connection
	Close() error
}

// Feature represents a feature flag in storage
type Feature struct {
	ID               string
	Key              string
	EnvironmentKey   string
	MasterEnabled    bool
	Enabled          bool
	Version          int64
	LastTransitionID string
	LastTransitionAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Schedule represents a schedule definition in storage
type Schedule struct {
	ID           string
	FeatureID    string
	Kind         string // "recurring", "one_shot"
	CronExpr     string
	CronDuration string
	Action       string // "enable", "disable"
	Timezone     string
	StartsAt     *time.Time
	EndsAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Transition records one scheduled state change applied to a feature
type Transition struct {
	ID          string
	FeatureID   string
	ScheduledAt time.Time
	Enabled     bool
	AppliedAt   time.Time
	NodeID      string
	Recovery    bool
}
