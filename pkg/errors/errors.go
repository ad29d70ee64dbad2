package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyKey     = errors.New("empty key")
	ErrInvalidData  = errors.New("invalid data type")
	ErrEntityExists = errors.New("entity already exists")
	ErrRunnerBusy   = errors.New("runner has no free capacity")
	ErrInvalidState = errors.New("invalid state transition")
	ErrEmptyPayload = errors.New("empty payload")
)
