package domain

import "time"

// VariantAssignment records the sticky bucket of a visitor in an experiment.
type VariantAssignment struct {
	ExperimentKey string    `json:"experiment_key" db:"experiment_key"`
	AnonymousID   string    `json:"anonymous_id" db:"anonymous_id"`
	VariantID     string    `json:"variant_id" db:"variant_id"`
	AssignedAt    time.Time `json:"assigned_at" db:"assigned_at"`
}
