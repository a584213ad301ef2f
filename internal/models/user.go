package models

import (
	"time"
)

// UserProfile is owned by the profile subsystem; the comment engine only reads it.
type UserProfile struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Username  string    `gorm:"size:64" json:"username"`
	FullName  string    `gorm:"size:128" json:"full_name"`
	Email     string    `gorm:"size:255" json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserProfile) TableName() string { return CollectionUserProfiles }

// DisplayName prefers the full name, then the username.
func (p *UserProfile) DisplayName() string {
	if p == nil {
		return ""
	}
	if p.FullName != "" {
		return p.FullName
	}
	return p.Username
}
