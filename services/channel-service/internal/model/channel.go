package model

import "time"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	default:
		return false
	}
}

// Branding is the presentational slice of a channel, updated as a unit.
type Branding struct {
	Color     string `json:"color"`
	AvatarURL string `json:"avatar_url"`
	BannerURL string `json:"banner_url"`
}

// Channel is the channel aggregate. Version is the optimistic-concurrency
// token: every update states the version it read and bumps it by one; a
// mismatch means a concurrent writer got there first.
type Channel struct {
	ID                 string
	Handle             string
	Title              string
	Description        string
	Branding           Branding
	OwnerProfileID     string
	Version            int64
	LastHandleChangeAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Member binds a profile to a channel with a role.
type Member struct {
	ChannelID string
	ProfileID string
	Role      Role
	CreatedAt time.Time
}
