// Package auth carries the signed-in user through a request or live view.
package auth

import (
	"sync"

	"rujing/internal/models"
)

// Provider answers who is signed in. Write operations are gated on it.
type Provider interface {
	CurrentUser() (string, bool)
	Profile() *models.UserProfile
}

// Session is the per-viewer auth context. It is created empty, filled by
// Init on login and cleared by Teardown on logout.
type Session struct {
	mu      sync.RWMutex
	userID  string
	profile *models.UserProfile
}

func NewSession() *Session {
	return &Session{}
}

func (s *Session) Init(userID string, profile *models.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.profile = profile
}

func (s *Session) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = ""
	s.profile = nil
}

func (s *Session) CurrentUser() (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

// Profile may be nil even for a signed-in user.
func (s *Session) Profile() *models.UserProfile {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}
