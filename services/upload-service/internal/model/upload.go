package model

import "time"

const (
	StatusInitialized = "initialized"
)

type Upload struct {
	ID                string
	ChannelID         string
	UploaderProfileID string
	Filename          string
	SizeBytes         int64
	Status            string
	CreatedAt         time.Time
}

// Quota is the per-channel storage budget maintained from channel lifecycle
// events. used_bytes and active_uploads move together with upload rows.
type Quota struct {
	ChannelID        string
	MaxActiveUploads int32
	MaxTotalBytes    int64
	ActiveUploads    int32
	UsedBytes        int64
	UpdatedAt        time.Time
}
