package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyCompleted   = errors.New("analysis already completed")
	ErrAlreadyInProgress  = errors.New("analysis already in progress")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrEmptyRun           = errors.New("run has no analyzable conversations")
	ErrRunNotFound        = errors.New("run not found")
	ErrLockNotAcquired    = errors.New("lock is held by another worker")
	ErrQueueUnknown       = errors.New("unknown queue")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context")
)
