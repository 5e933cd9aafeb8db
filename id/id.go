package id

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Namespace UUIDs for different entity types (UUIDv5 requires a namespace)
var (
	FeatureNamespace    = uuid.MustParse("3f1c2a40-5d0e-5b8a-9c61-7a2f4e0b9d10")
	TransitionNamespace = uuid.MustParse("3f1c2a41-5d0e-5b8a-9c61-7a2f4e0b9d10")
)

const (
	FeaturePrefix    = "feat_"
	SchedulePrefix   = "sch_"
	TransitionPrefix = "trn_"
)

// GenerateFeatureID generates a deterministic ID for a feature from its
// environment and flag key. Loading the same file twice yields the same IDs.
func GenerateFeatureID(environmentKey, key string) string {
	combined := fmt.Sprintf("%s:%s", environmentKey, key)
	id := uuid.NewSHA1(FeatureNamespace, []byte(combined))
	return FeaturePrefix + id.String()
}

// NewScheduleID generates a random schedule ID
func NewScheduleID() string {
	return SchedulePrefix + uuid.NewString()
}

// GenerateTransitionID generates a deterministic ID for a transition
// based on feature ID and scheduled time, so every node applying the same
// transition agrees on its identity
func GenerateTransitionID(featureID string, scheduledTime time.Time) string {
	// Use RFC3339 format for consistent time representation
	timeStr := scheduledTime.UTC().Format(time.RFC3339)
	combined := fmt.Sprintf("%s:%s", featureID, timeStr)
	id := uuid.NewSHA1(TransitionNamespace, []byte(combined))
	return TransitionPrefix + id.String()
}

// Valid reports whether s carries prefix followed by a well-formed UUID
func Valid(s, prefix string) bool {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
