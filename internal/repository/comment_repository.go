// Package repository holds the comment domain operations built on the store.
package repository

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"rujing/internal/metrics"
	"rujing/internal/models"
	"rujing/internal/store"
	"rujing/internal/utils"
)

const (
	DefaultMaxContentLength = 2000
	DefaultProfileCacheSize = 500
	DefaultProfileCacheTTL  = 5 * time.Minute
)

type Options struct {
	MaxContentLength int
	ProfileCacheSize int
	ProfileCacheTTL  time.Duration
	Now              func() time.Time
}

type CommentRepository struct {
	store    store.Store
	logger   *zap.Logger
	metrics  *metrics.Metrics
	profiles *utils.TTLCache[string, *models.UserProfile]
	maxLen   int
	now      func() time.Time
}

func NewCommentRepository(s store.Store, logger *zap.Logger, m *metrics.Metrics, opts Options) (*CommentRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = DefaultMaxContentLength
	}
	if opts.ProfileCacheSize <= 0 {
		opts.ProfileCacheSize = DefaultProfileCacheSize
	}
	if opts.ProfileCacheTTL <= 0 {
		opts.ProfileCacheTTL = DefaultProfileCacheTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	profiles, err := utils.NewTTLCache[string, *models.UserProfile](opts.ProfileCacheSize, opts.ProfileCacheTTL)
	if err != nil {
		return nil, err
	}
	return &CommentRepository{
		store:    s,
		logger:   logger,
		metrics:  m,
		profiles: profiles,
		maxLen:   opts.MaxContentLength,
		now:      opts.Now,
	}, nil
}

// FetchAll returns every comment as two-level threads with author profiles
// attached. An empty store yields an empty, non-nil slice.
func (r *CommentRepository) FetchAll(ctx context.Context) ([]*models.Comment, error) {
	var rows []*models.Comment
	if err := r.store.QueryAll(ctx, models.CollectionComments, &rows, store.OrderBy("created_at", true)); err != nil {
		r.logger.Error("Failed to fetch comments", zap.Error(err))
		return nil, &StoreError{Op: "fetch comments", Err: err}
	}
	if len(rows) == 0 {
		return []*models.Comment{}, nil
	}

	authorIDs := make([]string, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if !seen[row.UserID] {
			seen[row.UserID] = true
			authorIDs = append(authorIDs, row.UserID)
		}
	}

	profiles, err := r.profilesFor(ctx, authorIDs)
	if err != nil {
		r.logger.Error("Failed to fetch comment authors", zap.Error(err))
		return nil, &StoreError{Op: "fetch profiles", Err: err}
	}

	for _, row := range rows {
		row.Profile = profiles[row.UserID]
		row.ContentHTML = utils.RenderMarkdown(row.Content)
	}
	return utils.AssembleThreads(rows), nil
}

// Add creates a top-level comment, or a reply when parentID is set. Replies
// may only target top-level comments.
func (r *CommentRepository) Add(ctx context.Context, userID, content string, parentID *string) (*models.Comment, error) {
	if userID == "" {
		return nil, errUnauthenticated
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errEmptyContent
	}
	if utf8.RuneCountInString(content) > r.maxLen {
		return nil, errTooLong
	}
	if parentID != nil && *parentID == "" {
		parentID = nil
	}

	if parentID != nil {
		var parents []models.Comment
		err := r.store.QueryWhere(ctx, models.CollectionComments,
			store.Where(store.Eq("id", *parentID), store.IsNull("parent_id")),
			&parents, store.Select("id"), store.Limit(1))
		if err != nil {
			return nil, &StoreError{Op: "check parent", Err: err}
		}
		if len(parents) == 0 {
			return nil, errNoParent
		}
	}

	comment := &models.Comment{
		UserID:    userID,
		Content:   content,
		Likes:     0,
		CreatedAt: r.now().UTC(),
		ParentID:  parentID,
	}
	if err := r.store.Insert(ctx, models.CollectionComments, comment); err != nil {
		r.logger.Error("Failed to insert comment", zap.String("user_id", userID), zap.Error(err))
		return nil, &StoreError{Op: "insert comment", Err: err}
	}

	// the row is already written, so a missing profile only costs the byline
	profile, err := r.Profile(ctx, userID)
	if err != nil {
		r.logger.Warn("Failed to load author profile", zap.String("user_id", userID), zap.Error(err))
	}
	comment.Profile = profile
	comment.Replies = []*models.Comment{}
	comment.ContentHTML = utils.RenderMarkdown(comment.Content)

	r.logger.Info("Comment added",
		zap.String("comment_id", comment.ID),
		zap.String("user_id", userID),
		zap.Bool("reply", parentID != nil),
	)
	return comment, nil
}

// ToggleLike flips the caller's like on commentID. The like record and the
// counter change commit together, and the counter moves by an atomic delta.
func (r *CommentRepository) ToggleLike(ctx context.Context, commentID, userID string) (*models.LikeResult, error) {
	if userID == "" {
		return nil, errUnauthenticated
	}
	if commentID == "" {
		return nil, errMissingComment
	}

	result := &models.LikeResult{CommentID: commentID}
	err := r.store.Transaction(ctx, func(tx store.Store) error {
		var existing []models.Comment
		if err := tx.QueryWhere(ctx, models.CollectionComments,
			store.Where(store.Eq("id", commentID)), &existing, store.Select("id"), store.Limit(1)); err != nil {
			return err
		}
		if len(existing) == 0 {
			return errNoComment
		}

		removed, err := tx.Delete(ctx, models.CollectionCommentLikes,
			store.Where(store.Eq("comment_id", commentID), store.Eq("user_id", userID)))
		if err != nil {
			return err
		}

		delta := -1
		if removed == 0 {
			like := &models.CommentLike{CommentID: commentID, UserID: userID, CreatedAt: r.now().UTC()}
			if err := tx.Insert(ctx, models.CollectionCommentLikes, like); err != nil {
				return err
			}
			delta = 1
		}

		var updated []models.Comment
		if err := tx.Update(ctx, models.CollectionComments, store.Where(store.Eq("id", commentID)),
			store.Patch{"likes": store.Increment(delta)}, &updated); err != nil {
			return err
		}
		if len(updated) == 0 {
			return errNoComment
		}
		result.Likes = updated[0].Likes
		result.Liked = delta > 0
		return nil
	})
	if err != nil {
		r.metrics.RecordLikeToggle("failed")
		if IsNotFound(err) {
			return nil, err
		}
		r.logger.Error("Failed to toggle like",
			zap.String("comment_id", commentID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, &StoreError{Op: "toggle like", Err: err}
	}

	if result.Liked {
		r.metrics.RecordLikeToggle("liked")
	} else {
		r.metrics.RecordLikeToggle("unliked")
	}
	return result, nil
}

// CheckLiked returns the subset of commentIDs the user has liked. Absent
// ids are not liked.
func (r *CommentRepository) CheckLiked(ctx context.Context, commentIDs []string, userID string) (map[string]bool, error) {
	liked := make(map[string]bool)
	if userID == "" || len(commentIDs) == 0 {
		return liked, nil
	}

	ids := make([]string, 0, len(commentIDs))
	seen := make(map[string]bool, len(commentIDs))
	for _, id := range commentIDs {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	var likes []models.CommentLike
	err := r.store.QueryWhere(ctx, models.CollectionCommentLikes,
		store.Where(store.Eq("user_id", userID), store.In("comment_id", ids)),
		&likes, store.Select("comment_id"))
	if err != nil {
		return liked, &StoreError{Op: "check liked", Err: err}
	}
	for _, l := range likes {
		liked[l.CommentID] = true
	}
	return liked, nil
}

// Watch subscribes to every change on the comments collection. Callers must
// Unwatch when they stop draining.
func (r *CommentRepository) Watch(ctx context.Context) (*store.Subscription, error) {
	sub, err := r.store.Subscribe(ctx, models.CollectionComments, store.EventAll)
	if err != nil {
		return nil, &StoreError{Op: "watch comments", Err: err}
	}
	return sub, nil
}

func (r *CommentRepository) Unwatch(sub *store.Subscription) {
	r.store.Unsubscribe(sub)
}

// Profile returns the user's profile, or nil when the profile subsystem has
// none.
func (r *CommentRepository) Profile(ctx context.Context, userID string) (*models.UserProfile, error) {
	if userID == "" {
		return nil, nil
	}
	profiles, err := r.profilesFor(ctx, []string{userID})
	if err != nil {
		return nil, &StoreError{Op: "fetch profile", Err: err}
	}
	return profiles[userID], nil
}

// profilesFor serves cached profiles and batch-loads the rest in one query.
func (r *CommentRepository) profilesFor(ctx context.Context, ids []string) (map[string]*models.UserProfile, error) {
	out := make(map[string]*models.UserProfile, len(ids))
	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.profiles.Get(id); ok {
			out[id] = p
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	var rows []*models.UserProfile
	err := r.store.QueryWhere(ctx, models.CollectionUserProfiles,
		store.Where(store.In("id", missing)), &rows,
		store.Select("id", "username", "full_name"))
	if err != nil {
		return nil, err
	}
	for _, p := range rows {
		out[p.ID] = p
		r.profiles.Set(p.ID, p)
	}
	return out, nil
}

// ForgetProfile drops a cached profile, e.g. after the user renames.
func (r *CommentRepository) ForgetProfile(userID string) {
	r.profiles.Delete(userID)
}

// ReconcileLikeCounts recounts every counter that disagrees with the number
// of like records for its comment and reports how many changed. Counters are
// locked for the run and rewritten from a count taken in the write itself, so
// a toggle committing mid-run is never overwritten.
func (r *CommentRepository) ReconcileLikeCounts(ctx context.Context) (int, error) {
	fixed := 0
	err := r.store.Transaction(ctx, func(tx store.Store) error {
		var comments []models.Comment
		if err := tx.QueryAll(ctx, models.CollectionComments, &comments,
			store.Select("id", "likes"), store.ForUpdate()); err != nil {
			return err
		}
		var likes []models.CommentLike
		if err := tx.QueryAll(ctx, models.CollectionCommentLikes, &likes, store.Select("comment_id")); err != nil {
			return err
		}

		counts := make(map[string]int, len(comments))
		for _, l := range likes {
			counts[l.CommentID]++
		}
		for _, c := range comments {
			want := counts[c.ID]
			if c.Likes == want {
				continue
			}
			var updated []models.Comment
			if err := tx.Update(ctx, models.CollectionComments, store.Where(store.Eq("id", c.ID)),
				store.Patch{"likes": store.CountOf(models.CollectionCommentLikes, "comment_id", "id")}, &updated); err != nil {
				return err
			}
			now := want
			if len(updated) > 0 {
				now = updated[0].Likes
			}
			r.logger.Debug("Like counter corrected",
				zap.String("comment_id", c.ID),
				zap.Int("was", c.Likes),
				zap.Int("now", now),
			)
			fixed++
		}
		return nil
	})
	if err != nil {
		return 0, &StoreError{Op: "reconcile like counts", Err: err}
	}
	r.metrics.RecordReconciled(fixed)
	return fixed, nil
}
