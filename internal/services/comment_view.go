package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"rujing/internal/auth"
	"rujing/internal/metrics"
	"rujing/internal/models"
	"rujing/internal/repository"
	"rujing/internal/store"
	"rujing/internal/utils"
)

var (
	ErrLoginRequired  = errors.New("login required")
	ErrUnknownComment = errors.New("comment is not in view")
	ErrNoReplyTarget  = errors.New("no reply composer is open")
)

const (
	MsgLoginToComment = "Please sign in before posting a comment"
	MsgLoginToReply   = "Please sign in before replying"
	MsgLoginToLike    = "Please sign in before liking comments"

	msgLoadFailed    = "Failed to load comments"
	msgCommentFailed = "Failed to post comment"
	msgReplyFailed   = "Failed to post reply"
	msgLikeFailed    = "Failed to update like, please try again later"
	msgEmptyComment  = "comment content cannot be empty"
	msgEmptyReply    = "reply content cannot be empty"

	DefaultRefetchDelay = 250 * time.Millisecond
	DefaultLoginURL     = "/login"
)

// CommentRepository is what a view needs from the comment store.
type CommentRepository interface {
	FetchAll(ctx context.Context) ([]*models.Comment, error)
	Add(ctx context.Context, userID, content string, parentID *string) (*models.Comment, error)
	ToggleLike(ctx context.Context, commentID, userID string) (*models.LikeResult, error)
	CheckLiked(ctx context.Context, commentIDs []string, userID string) (map[string]bool, error)
	Watch(ctx context.Context) (*store.Subscription, error)
	Unwatch(sub *store.Subscription)
}

// Navigator sends the viewer somewhere else, e.g. to the login flow.
type Navigator interface {
	Redirect(to, message string)
}

type ViewPhase string

const (
	PhaseLoading ViewPhase = "loading"
	PhaseReady   ViewPhase = "ready"
)

// ViewState is an immutable render snapshot.
type ViewState struct {
	Version    uint64              `json:"version"`
	Phase      ViewPhase           `json:"phase"`
	Comments   []*models.Comment   `json:"comments"`
	Liked      map[string]bool     `json:"liked"`
	Pending    map[string]bool     `json:"pending,omitempty"`
	SignedIn   bool                `json:"signed_in"`
	User       *models.UserProfile `json:"user,omitempty"`
	Draft      string              `json:"draft"`
	ReplyTo    string              `json:"reply_to,omitempty"`
	ReplyDraft string              `json:"reply_draft"`
	Error      string              `json:"error,omitempty"`
}

type ViewOption func(*CommentView)

func WithLoginURL(url string) ViewOption {
	return func(v *CommentView) {
		if url != "" {
			v.loginURL = url
		}
	}
}

func WithRefetchDelay(d time.Duration) ViewOption {
	return func(v *CommentView) {
		if d > 0 {
			v.refetchDelay = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) ViewOption {
	return func(v *CommentView) { v.metrics = m }
}

// CommentView is the live comment section for one viewer. It keeps the
// thread tree and like state, runs optimistic likes, and refetches when the
// comments collection changes.
type CommentView struct {
	repo    CommentRepository
	session auth.Provider
	nav     Navigator
	logger  *zap.Logger
	metrics *metrics.Metrics

	loginURL     string
	refetchDelay time.Duration

	mu          sync.Mutex
	version     uint64
	phase       ViewPhase
	comments    []*models.Comment
	likes       map[string]*likeEntry
	draft       string
	replyTo     string
	replyDraft  string
	errMsg      string
	loadFailed  bool
	loadSeq     uint64
	appliedLoad uint64
	closed      bool

	updates chan ViewState
	sub     *store.Subscription
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func NewCommentView(repo CommentRepository, session auth.Provider, nav Navigator, logger *zap.Logger, opts ...ViewOption) *CommentView {
	if logger == nil {
		logger = zap.NewNop()
	}
	if session == nil {
		session = auth.NewSession()
	}
	v := &CommentView{
		repo:         repo,
		session:      session,
		nav:          nav,
		logger:       logger,
		loginURL:     DefaultLoginURL,
		refetchDelay: DefaultRefetchDelay,
		phase:        PhaseLoading,
		comments:     []*models.Comment{},
		likes:        make(map[string]*likeEntry),
		updates:      make(chan ViewState, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Start subscribes to comment changes, performs the first load and starts
// draining change events. The view stays usable when the load fails.
func (v *CommentView) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)

	sub, err := v.repo.Watch(loopCtx)
	if err != nil {
		cancel()
		close(v.done)
		v.fail(msgLoadFailed, true)
		return err
	}

	v.mu.Lock()
	v.sub = sub
	v.cancel = cancel
	v.mu.Unlock()
	v.metrics.ViewOpened()

	go v.drain(loopCtx, sub.Events())

	return v.Load(loopCtx)
}

// Close stops the refetch loop and releases the subscription. Safe to call
// more than once.
func (v *CommentView) Close() {
	v.once.Do(func() {
		v.mu.Lock()
		sub, cancel := v.sub, v.cancel
		v.closed = true
		close(v.updates)
		v.mu.Unlock()

		if cancel != nil {
			cancel()
			<-v.done
			v.metrics.ViewClosed()
		}
		if sub != nil {
			v.repo.Unwatch(sub)
		}
	})
}

// Updates streams render snapshots. Only the newest unread snapshot is kept.
func (v *CommentView) Updates() <-chan ViewState {
	return v.updates
}

// State returns a deep copy of the current state.
func (v *CommentView) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

// Load refetches every comment and the viewer's likes. On failure the
// previously loaded tree stays and the error banner is set.
func (v *CommentView) Load(ctx context.Context) error {
	v.mu.Lock()
	v.loadSeq++
	seq := v.loadSeq
	v.mu.Unlock()

	threads, err := v.repo.FetchAll(ctx)
	if err != nil {
		v.logger.Warn("Failed to load comments", zap.Error(err))
		v.fail(msgLoadFailed, true)
		return err
	}

	userID, signedIn := v.session.CurrentUser()
	liked := map[string]bool{}
	known := false
	if signedIn {
		liked, err = v.repo.CheckLiked(ctx, utils.ThreadIDs(threads), userID)
		if err != nil {
			// counts still render; like flags fall back to what we had
			v.logger.Warn("Failed to load liked comments", zap.String("user_id", userID), zap.Error(err))
		} else {
			known = true
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if seq < v.appliedLoad || v.closed {
		return nil
	}
	v.appliedLoad = seq

	next := make(map[string]*likeEntry, len(v.likes))
	walk(threads, func(c *models.Comment) {
		e, ok := v.likes[c.ID]
		if !ok {
			e = &likeEntry{}
		}
		switch {
		case e.status == LikePending:
			c.Likes = e.count
		case known || !signedIn:
			e.settle(liked[c.ID], c.Likes, known)
		default:
			e.settle(e.liked, c.Likes, e.status != LikeUnknown)
		}
		next[c.ID] = e
	})

	v.comments = threads
	v.likes = next
	v.phase = PhaseReady
	if v.loadFailed {
		v.errMsg = ""
		v.loadFailed = false
	}
	v.publishLocked()
	return nil
}

func (v *CommentView) SetDraft(text string) {
	v.mu.Lock()
	v.draft = text
	v.mu.Unlock()
}

func (v *CommentView) SetReplyDraft(text string) {
	v.mu.Lock()
	v.replyDraft = text
	v.mu.Unlock()
}

// SubmitComment posts the draft as a new top-level comment. The draft is
// kept on failure.
func (v *CommentView) SubmitComment(ctx context.Context) error {
	userID, ok := v.session.CurrentUser()
	if !ok {
		v.redirectToLogin(MsgLoginToComment)
		return ErrLoginRequired
	}

	v.mu.Lock()
	draft := v.draft
	v.mu.Unlock()
	if strings.TrimSpace(draft) == "" {
		err := &repository.ValidationError{Message: msgEmptyComment}
		v.fail(err.Message, false)
		return err
	}

	c, err := v.repo.Add(ctx, userID, draft, nil)
	if err != nil {
		v.logger.Warn("Failed to post comment", zap.String("user_id", userID), zap.Error(err))
		v.fail(userMessage(err, msgCommentFailed), false)
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if found, _ := utils.FindInThreads(v.comments, c.ID); found == nil {
		v.comments = append([]*models.Comment{c}, v.comments...)
		v.likes[c.ID] = newSettledEntry(c.Likes)
	}
	if v.draft == draft {
		v.draft = ""
	}
	v.publishLocked()
	return nil
}

// StartReply opens the reply composer on id, closing any other one. Opening
// it on a reply targets that reply's thread.
func (v *CommentView) StartReply(id string) error {
	if _, ok := v.session.CurrentUser(); !ok {
		v.redirectToLogin(MsgLoginToReply)
		return ErrLoginRequired
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	found, parent := utils.FindInThreads(v.comments, id)
	if found == nil {
		return ErrUnknownComment
	}
	if parent != nil {
		found = parent
	}
	v.replyTo = found.ID
	v.replyDraft = ""
	v.publishLocked()
	return nil
}

func (v *CommentView) CancelReply() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.replyTo = ""
	v.replyDraft = ""
	v.publishLocked()
}

// SubmitReply posts the reply draft under the open reply target and appends
// the result to that thread without a refetch.
func (v *CommentView) SubmitReply(ctx context.Context) error {
	userID, ok := v.session.CurrentUser()
	if !ok {
		v.redirectToLogin(MsgLoginToReply)
		return ErrLoginRequired
	}

	v.mu.Lock()
	target, content := v.replyTo, v.replyDraft
	v.mu.Unlock()
	if target == "" {
		return ErrNoReplyTarget
	}
	if strings.TrimSpace(content) == "" {
		err := &repository.ValidationError{Message: msgEmptyReply}
		v.fail(err.Message, false)
		return err
	}

	reply, err := v.repo.Add(ctx, userID, content, &target)
	if err != nil {
		v.logger.Warn("Failed to post reply",
			zap.String("user_id", userID),
			zap.String("parent_id", target),
			zap.Error(err),
		)
		v.fail(userMessage(err, msgReplyFailed), false)
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if parent, _ := utils.FindInThreads(v.comments, target); parent != nil {
		if found, _ := utils.FindInThreads(v.comments, reply.ID); found == nil {
			parent.Replies = append(parent.Replies, reply)
			v.likes[reply.ID] = newSettledEntry(reply.Likes)
		}
	}
	if v.replyTo == target {
		v.replyTo = ""
		v.replyDraft = ""
	}
	v.publishLocked()
	return nil
}

// ToggleLike flips the like on id immediately, then confirms with the
// server's counter or rolls back if the call fails.
func (v *CommentView) ToggleLike(ctx context.Context, id string) error {
	userID, ok := v.session.CurrentUser()
	if !ok {
		v.redirectToLogin(MsgLoginToLike)
		return ErrLoginRequired
	}

	v.mu.Lock()
	node, _ := utils.FindInThreads(v.comments, id)
	if node == nil {
		v.mu.Unlock()
		return ErrUnknownComment
	}
	entry, ok := v.likes[id]
	if !ok {
		entry = newSettledEntry(node.Likes)
		v.likes[id] = entry
	}
	seq := entry.begin()
	v.applyLocked(id, entry)
	v.publishLocked()
	v.mu.Unlock()

	res, err := v.repo.ToggleLike(ctx, id, userID)

	v.mu.Lock()
	defer v.mu.Unlock()
	// a refetch may have swapped the entry out if the comment disappeared
	entry, ok = v.likes[id]
	if !ok {
		if err != nil {
			v.errMsg = userMessage(err, msgLikeFailed)
			v.loadFailed = false
			v.publishLocked()
		}
		return err
	}
	if err != nil {
		if entry.rollback(seq) {
			v.applyLocked(id, entry)
			v.metrics.RecordRollback()
		}
		v.logger.Warn("Failed to toggle like",
			zap.String("comment_id", id),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		v.errMsg = userMessage(err, msgLikeFailed)
		v.loadFailed = false
		v.publishLocked()
		return err
	}

	entry.confirm(seq, res.Likes, res.Liked)
	v.applyLocked(id, entry)
	v.publishLocked()
	return nil
}

func (v *CommentView) DismissError() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errMsg = ""
	v.loadFailed = false
	v.publishLocked()
}

func (v *CommentView) redirectToLogin(message string) {
	if v.nav != nil {
		v.nav.Redirect(v.loginURL, message)
	}
}

func (v *CommentView) fail(message string, fromLoad bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.errMsg = message
	v.loadFailed = fromLoad
	if fromLoad && v.phase == PhaseLoading && len(v.comments) == 0 {
		// first load failed; there is nothing older to keep showing
		v.phase = PhaseReady
	}
	v.publishLocked()
}

func (v *CommentView) applyLocked(id string, e *likeEntry) {
	if node, _ := utils.FindInThreads(v.comments, id); node != nil {
		node.Likes = e.count
	}
}

func (v *CommentView) publishLocked() {
	if v.closed {
		return
	}
	v.version++
	state := v.snapshotLocked()
	select {
	case <-v.updates:
	default:
	}
	select {
	case v.updates <- state:
	default:
	}
}

func (v *CommentView) snapshotLocked() ViewState {
	comments := make([]*models.Comment, len(v.comments))
	for i, c := range v.comments {
		comments[i] = c.Clone()
	}
	liked := make(map[string]bool)
	var pending map[string]bool
	for id, e := range v.likes {
		if e.liked {
			liked[id] = true
		}
		if e.status == LikePending {
			if pending == nil {
				pending = make(map[string]bool)
			}
			pending[id] = true
		}
	}
	_, signedIn := v.session.CurrentUser()
	return ViewState{
		Version:    v.version,
		Phase:      v.phase,
		Comments:   comments,
		Liked:      liked,
		Pending:    pending,
		SignedIn:   signedIn,
		User:       v.session.Profile(),
		Draft:      v.draft,
		ReplyTo:    v.replyTo,
		ReplyDraft: v.replyDraft,
		Error:      v.errMsg,
	}
}

func newSettledEntry(count int) *likeEntry {
	e := &likeEntry{}
	e.settle(false, count, true)
	return e
}

func walk(threads []*models.Comment, fn func(*models.Comment)) {
	for _, c := range threads {
		fn(c)
		for _, r := range c.Replies {
			fn(r)
		}
	}
}

// userMessage shows validation and not-found messages verbatim and hides
// backend details behind fallback.
func userMessage(err error, fallback string) string {
	if repository.IsValidation(err) || repository.IsNotFound(err) {
		return err.Error()
	}
	return fallback
}
