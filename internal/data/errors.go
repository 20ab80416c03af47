package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrConnectionNotFound is returned when a connection lookup misses.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrConfigNotFound is returned when a connection has no automation config.
	ErrConfigNotFound = errors.New("automation config not found")
	// ErrJobNotFound is returned when an automation job lookup misses.
	ErrJobNotFound = errors.New("automation job not found")
	// ErrRuleNotFound is returned when a validation rule lookup misses.
	ErrRuleNotFound = errors.New("validation rule not found")
	// ErrSnapshotNotFound is returned when no metadata snapshot exists yet.
	ErrSnapshotNotFound = errors.New("metadata snapshot not found")
	// ErrIllegalTransition is returned for backwards job status transitions.
	ErrIllegalTransition = errors.New("illegal job status transition")
	// ErrVerificationFailed is returned when a critical write could not be
	// verified after the retry budget was exhausted.
	ErrVerificationFailed = errors.New("write verification failed")
)
