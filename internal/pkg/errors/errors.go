package errors

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrBudgetExhausted = errors.New("budget exhausted")
	ErrDatasetLocked   = errors.New("dataset locked by another admission")
	ErrExternalLibrary = errors.New("dp backend failure")
	ErrCASConflict     = errors.New("compare-and-swap conflict")
	ErrBackpressure    = errors.New("submission backlog exceeds high-water mark")
)
