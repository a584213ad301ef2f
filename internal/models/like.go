package models

import (
	"time"
)

// CommentLike is one user's like on one comment. Existence means liked.
type CommentLike struct {
	CommentID string    `gorm:"primaryKey;size:36" json:"comment_id"`
	UserID    string    `gorm:"primaryKey;size:36;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (CommentLike) TableName() string { return CollectionCommentLikes }
