package storage

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrNoQuota       = errors.New("no quota row for channel")
	ErrQuotaExceeded = errors.New("quota exceeded")
)
