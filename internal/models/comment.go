package models

import (
	"html/template"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Collection names used by the comment engine.
const (
	CollectionComments     = "comments"
	CollectionCommentLikes = "comment_likes"
	CollectionUserProfiles = "user_profiles"
)

type Comment struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:36;not null;index" json:"user_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Likes     int       `gorm:"not null;default:0" json:"likes"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	ParentID  *string   `gorm:"size:36;index" json:"parent_id"` // nil for top-level comments

	// Attached at read time, never persisted.
	Profile     *UserProfile  `gorm:"-" json:"user_profiles"`
	Replies     []*Comment    `gorm:"-" json:"replies"`
	ContentHTML template.HTML `gorm:"-" json:"content_html,omitempty"`
}

func (Comment) TableName() string { return CollectionComments }

// BeforeCreate assigns the store-side identity.
func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// IsTopLevel reports whether the comment starts a thread.
func (c *Comment) IsTopLevel() bool {
	return c.ParentID == nil || *c.ParentID == ""
}

// Clone returns a deep copy, including replies.
func (c *Comment) Clone() *Comment {
	if c == nil {
		return nil
	}
	cp := *c
	if c.ParentID != nil {
		pid := *c.ParentID
		cp.ParentID = &pid
	}
	if c.Profile != nil {
		p := *c.Profile
		cp.Profile = &p
	}
	if c.Replies != nil {
		cp.Replies = make([]*Comment, len(c.Replies))
		for i, r := range c.Replies {
			cp.Replies[i] = r.Clone()
		}
	}
	return &cp
}

// LikeResult is the authoritative outcome of a like toggle.
type LikeResult struct {
	CommentID string `json:"comment_id"`
	Likes     int    `json:"likes"`
	Liked     bool   `json:"liked"`
}
