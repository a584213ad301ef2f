package services

import (
	"context"
	"sync"

	"rujing/internal/models"
	"rujing/internal/store"
)

// MockCommentRepository is a mock implementation of CommentRepository
type MockCommentRepository struct {
	FetchAllFunc   func(ctx context.Context) ([]*models.Comment, error)
	AddFunc        func(ctx context.Context, userID, content string, parentID *string) (*models.Comment, error)
	ToggleLikeFunc func(ctx context.Context, commentID, userID string) (*models.LikeResult, error)
	CheckLikedFunc func(ctx context.Context, commentIDs []string, userID string) (map[string]bool, error)

	Broker *store.LocalBroker

	mu    sync.Mutex
	calls map[string]int
}

func newMockRepo() *MockCommentRepository {
	return &MockCommentRepository{Broker: store.NewLocalBroker(nil, nil)}
}

func (m *MockCommentRepository) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

func (m *MockCommentRepository) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *MockCommentRepository) FetchAll(ctx context.Context) ([]*models.Comment, error) {
	m.record("FetchAll")
	if m.FetchAllFunc != nil {
		return m.FetchAllFunc(ctx)
	}
	return []*models.Comment{}, nil
}

func (m *MockCommentRepository) Add(ctx context.Context, userID, content string, parentID *string) (*models.Comment, error) {
	m.record("Add")
	if m.AddFunc != nil {
		return m.AddFunc(ctx, userID, content, parentID)
	}
	return nil, nil
}

func (m *MockCommentRepository) ToggleLike(ctx context.Context, commentID, userID string) (*models.LikeResult, error) {
	m.record("ToggleLike")
	if m.ToggleLikeFunc != nil {
		return m.ToggleLikeFunc(ctx, commentID, userID)
	}
	return nil, nil
}

func (m *MockCommentRepository) CheckLiked(ctx context.Context, commentIDs []string, userID string) (map[string]bool, error) {
	m.record("CheckLiked")
	if m.CheckLikedFunc != nil {
		return m.CheckLikedFunc(ctx, commentIDs, userID)
	}
	return map[string]bool{}, nil
}

func (m *MockCommentRepository) Watch(ctx context.Context) (*store.Subscription, error) {
	m.record("Watch")
	return m.Broker.Subscribe(ctx, models.CollectionComments, store.EventAll)
}

func (m *MockCommentRepository) Unwatch(sub *store.Subscription) {
	m.record("Unwatch")
	m.Broker.Unsubscribe(sub)
}

// recordingNavigator remembers every redirect.
type recordingNavigator struct {
	mu        sync.Mutex
	redirects []string
	messages  []string
}

func (n *recordingNavigator) Redirect(to, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.redirects = append(n.redirects, to)
	n.messages = append(n.messages, message)
}

func (n *recordingNavigator) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.redirects)
}
