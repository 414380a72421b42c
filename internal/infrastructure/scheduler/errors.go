package scheduler

import "errors"

var (
	// ErrNoRunner is returned by Start when no job runner was set
	ErrNoRunner = errors.New("scheduler has no job runner")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrJobNotRequeueable is returned when requeueing a job that is still pending or running
	ErrJobNotRequeueable = errors.New("only failed, dead or done jobs can be requeued")
)
