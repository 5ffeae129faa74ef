package storage

import "errors"

var (
	ErrNotFound        = errors.New("storage: not found")
	ErrHandleTaken     = errors.New("storage: handle already reserved")
	ErrVersionMismatch = errors.New("storage: version mismatch")
	ErrNoMembership    = errors.New("storage: no membership")
)
