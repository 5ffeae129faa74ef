package model

import "time"

type Profile struct {
	ID          string
	DisplayName string
	Bio         string
	AvatarURL   string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
