package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rujing/internal/config"
	"rujing/internal/db"
	"rujing/internal/metrics"
	"rujing/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{Driver: "sqlite", URL: db.MemoryURL(t.Name())}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := gdb.DB()
		_ = sqlDB.Close()
	})
	return gdb
}

func setupTestStore(t *testing.T) (*GormStore, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewWithRegistry(prometheus.NewRegistry(), nil)
	s := NewGormStore(setupTestDB(t), NewLocalBroker(nil, m), nil, m,
		models.Comment{}, models.CommentLike{}, models.UserProfile{})
	return s, m
}

func strPtr(s string) *string { return &s }

func waitEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
	return Event{}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGormStore_InsertAssignsIDAndQueryOrders(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	older := &models.Comment{UserID: "u1", Content: "older", CreatedAt: base}
	newer := &models.Comment{UserID: "u1", Content: "newer", CreatedAt: base.Add(time.Minute)}
	require.NoError(t, s.Insert(ctx, models.CollectionComments, older))
	require.NoError(t, s.Insert(ctx, models.CollectionComments, newer))
	assert.NotEmpty(t, older.ID)
	assert.NotEqual(t, older.ID, newer.ID)

	var rows []models.Comment
	require.NoError(t, s.QueryAll(ctx, models.CollectionComments, &rows, OrderBy("created_at", true)))
	require.Len(t, rows, 2)
	assert.Equal(t, "newer", rows[0].Content)
	assert.Equal(t, "older", rows[1].Content)
}

func TestGormStore_QueryWhere(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	root := &models.Comment{UserID: "u1", Content: "root", CreatedAt: time.Now()}
	require.NoError(t, s.Insert(ctx, models.CollectionComments, root))
	reply := &models.Comment{UserID: "u2", Content: "reply", CreatedAt: time.Now(), ParentID: strPtr(root.ID)}
	require.NoError(t, s.Insert(ctx, models.CollectionComments, reply))

	var top []models.Comment
	require.NoError(t, s.QueryWhere(ctx, models.CollectionComments, Where(IsNull("parent_id")), &top))
	require.Len(t, top, 1)
	assert.Equal(t, root.ID, top[0].ID)

	var byUser []models.Comment
	require.NoError(t, s.QueryWhere(ctx, models.CollectionComments,
		Where(In("user_id", []string{"u2", "u3"})), &byUser, Select("id", "user_id")))
	require.Len(t, byUser, 1)
	assert.Equal(t, reply.ID, byUser[0].ID)
	assert.Empty(t, byUser[0].Content)

	var none []models.Comment
	require.NoError(t, s.QueryWhere(ctx, models.CollectionComments,
		Where(Eq("id", "missing")), &none))
	assert.Empty(t, none)

	var empty []models.Comment
	require.NoError(t, s.QueryWhere(ctx, models.CollectionComments,
		Where(In("id", []string{})), &empty))
	assert.Empty(t, empty)
}

func TestGormStore_UpdateIncrementClampsAtZero(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	c := &models.Comment{UserID: "u1", Content: "hello", Likes: 1, CreatedAt: time.Now()}
	require.NoError(t, s.Insert(ctx, models.CollectionComments, c))

	var updated []models.Comment
	require.NoError(t, s.Update(ctx, models.CollectionComments, Where(Eq("id", c.ID)),
		Patch{"likes": Increment(1)}, &updated))
	require.Len(t, updated, 1)
	assert.Equal(t, 2, updated[0].Likes)

	require.NoError(t, s.Update(ctx, models.CollectionComments, Where(Eq("id", c.ID)),
		Patch{"likes": Increment(-5)}, &updated))
	assert.Equal(t, 0, updated[0].Likes)

	require.NoError(t, s.Update(ctx, models.CollectionComments, Where(Eq("id", c.ID)),
		Patch{"likes": 7}, nil))
	var rows []models.Comment
	require.NoError(t, s.QueryWhere(ctx, models.CollectionComments, Where(Eq("id", c.ID)), &rows))
	assert.Equal(t, 7, rows[0].Likes)
}

func TestGormStore_UpdateCountOfRecountsInWrite(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	c := &models.Comment{UserID: "u1", Content: "hello", Likes: 9, CreatedAt: time.Now()}
	other := &models.Comment{UserID: "u1", Content: "other", Likes: 4, CreatedAt: time.Now()}
	require.NoError(t, s.Insert(ctx, models.CollectionComments, c))
	require.NoError(t, s.Insert(ctx, models.CollectionComments, other))
	for _, u := range []string{"u1", "u2"} {
		require.NoError(t, s.Insert(ctx, models.CollectionCommentLikes, &models.CommentLike{CommentID: c.ID, UserID: u}))
	}

	err := s.Transaction(ctx, func(tx Store) error {
		var locked []models.Comment
		if err := tx.QueryWhere(ctx, models.CollectionComments, Where(Eq("id", c.ID)), &locked, ForUpdate()); err != nil {
			return err
		}
		require.Len(t, locked, 1)

		var updated []models.Comment
		if err := tx.Update(ctx, models.CollectionComments, Where(Eq("id", c.ID)),
			Patch{"likes": CountOf(models.CollectionCommentLikes, "comment_id", "id")}, &updated); err != nil {
			return err
		}
		require.Len(t, updated, 1)
		assert.Equal(t, 2, updated[0].Likes)
		return nil
	})
	require.NoError(t, err)

	var rows []models.Comment
	require.NoError(t, s.QueryWhere(ctx, models.CollectionComments, Where(Eq("id", other.ID)), &rows))
	assert.Equal(t, 4, rows[0].Likes)

	err = s.Update(ctx, models.CollectionComments, Where(Eq("id", c.ID)),
		Patch{"likes": CountOf("bookings", "comment_id", "id")}, nil)
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestGormStore_DeleteReturnsAffectedRows(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, models.CollectionCommentLikes, &models.CommentLike{CommentID: "c1", UserID: "u1"}))

	n, err := s.Delete(ctx, models.CollectionCommentLikes, Where(Eq("comment_id", "c1"), Eq("user_id", "u1")))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Delete(ctx, models.CollectionCommentLikes, Where(Eq("comment_id", "c1"), Eq("user_id", "u1")))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestGormStore_Errors(t *testing.T) {
	s, m := setupTestStore(t)
	ctx := context.Background()

	var rows []models.Comment
	err := s.QueryAll(ctx, "bookings", &rows)
	var storeErr *Error
	require.True(t, errors.As(err, &storeErr))
	assert.ErrorIs(t, err, ErrUnknownCollection)
	assert.Equal(t, "select", storeErr.Op)

	_, err = s.Delete(ctx, models.CollectionComments, nil)
	assert.Error(t, err)

	err = s.Update(ctx, models.CollectionComments, nil, Patch{"likes": 1}, nil)
	assert.Error(t, err)

	err = s.QueryWhere(ctx, models.CollectionComments, Where(In("id", "not-a-slice")), &rows)
	assert.Error(t, err)

	dup := &models.CommentLike{CommentID: "c1", UserID: "u1"}
	require.NoError(t, s.Insert(ctx, models.CollectionCommentLikes, dup))
	err = s.Insert(ctx, models.CollectionCommentLikes, &models.CommentLike{CommentID: "c1", UserID: "u1"})
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreOperationErrors.WithLabelValues(models.CollectionCommentLikes, "insert")))
}

func TestGormStore_PublishesChangeEvents(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, models.CollectionComments, EventAll)
	require.NoError(t, err)
	defer s.Unsubscribe(sub)

	c := &models.Comment{UserID: "u1", Content: "hi", CreatedAt: time.Now()}
	require.NoError(t, s.Insert(ctx, models.CollectionComments, c))
	ev := waitEvent(t, sub)
	assert.Equal(t, EventTypeInsert, ev.Type)
	assert.Equal(t, models.CollectionComments, ev.Collection)

	require.NoError(t, s.Update(ctx, models.CollectionComments, Where(Eq("id", c.ID)), Patch{"likes": 1}, nil))
	assert.Equal(t, EventTypeUpdate, waitEvent(t, sub).Type)

	// writes to other collections and no-op writes stay silent
	require.NoError(t, s.Insert(ctx, models.CollectionCommentLikes, &models.CommentLike{CommentID: c.ID, UserID: "u1"}))
	_, err = s.Delete(ctx, models.CollectionComments, Where(Eq("id", "missing")))
	require.NoError(t, err)
	assertNoEvent(t, sub)

	_, err = s.Delete(ctx, models.CollectionComments, Where(Eq("id", c.ID)))
	require.NoError(t, err)
	assert.Equal(t, EventTypeDelete, waitEvent(t, sub).Type)
}

func TestGormStore_SubscribeMask(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, models.CollectionComments, EventDelete)
	require.NoError(t, err)
	defer s.Unsubscribe(sub)

	c := &models.Comment{UserID: "u1", Content: "hi", CreatedAt: time.Now()}
	require.NoError(t, s.Insert(ctx, models.CollectionComments, c))
	assertNoEvent(t, sub)

	_, err = s.Delete(ctx, models.CollectionComments, Where(Eq("id", c.ID)))
	require.NoError(t, err)
	assert.Equal(t, EventTypeDelete, waitEvent(t, sub).Type)

	_, err = s.Subscribe(ctx, "bookings", EventAll)
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestGormStore_TransactionPublishesAfterCommit(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, models.CollectionComments, EventAll)
	require.NoError(t, err)
	defer s.Unsubscribe(sub)

	err = s.Transaction(ctx, func(tx Store) error {
		if err := tx.Insert(ctx, models.CollectionComments, &models.Comment{UserID: "u1", Content: "a", CreatedAt: time.Now()}); err != nil {
			return err
		}
		assertNoEvent(t, sub)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, EventTypeInsert, waitEvent(t, sub).Type)
}

func TestGormStore_TransactionRollback(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, models.CollectionComments, EventAll)
	require.NoError(t, err)
	defer s.Unsubscribe(sub)

	boom := errors.New("boom")
	err = s.Transaction(ctx, func(tx Store) error {
		require.NoError(t, tx.Insert(ctx, models.CollectionComments, &models.Comment{UserID: "u1", Content: "a", CreatedAt: time.Now()}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assertNoEvent(t, sub)

	var rows []models.Comment
	require.NoError(t, s.QueryAll(ctx, models.CollectionComments, &rows))
	assert.Empty(t, rows)
}
