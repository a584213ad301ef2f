package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rujing/internal/auth"
	"rujing/internal/metrics"
	"rujing/internal/middleware"
	"rujing/internal/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// Client actions on the live comment socket.
const (
	actionDraft       = "draft"
	actionSubmit      = "submit"
	actionReplyOpen   = "reply_open"
	actionReplyCancel = "reply_cancel"
	actionReplyDraft  = "reply_draft"
	actionReplySubmit = "reply_submit"
	actionLike        = "like"
	actionDismiss     = "dismiss"
	actionReload      = "reload"
)

// LiveMessage is a server frame: either a full view state or a redirect.
type LiveMessage struct {
	Type    string              `json:"type"`
	State   *services.ViewState `json:"state,omitempty"`
	To      string              `json:"to,omitempty"`
	Message string              `json:"message,omitempty"`
}

// LiveAction is a client frame.
type LiveAction struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
	Text   string `json:"text,omitempty"`
}

type LiveOptions struct {
	LoginURL     string
	RefetchDelay time.Duration

	// AllowedOrigins are accepted in addition to the serving host.
	AllowedOrigins []string
}

type LiveHandler struct {
	repo     services.CommentRepository
	logger   *zap.Logger
	metrics  *metrics.Metrics
	opts     LiveOptions
	upgrader websocket.Upgrader
}

func NewLiveHandler(repo services.CommentRepository, logger *zap.Logger, m *metrics.Metrics, opts LiveOptions) *LiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveHandler{
		repo:    repo,
		logger:  logger,
		metrics: m,
		opts:    opts,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(opts.AllowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// originChecker admits same-host origins and the allow-list. The socket acts
// with the session cookie, so any other page must be refused.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

// liveClient is one socket. It is also the view's Navigator: redirects are
// queued as frames and written by the write pump.
type liveClient struct {
	conn      *websocket.Conn
	redirects chan LiveMessage
	inflight  sync.WaitGroup
	logger    *zap.Logger
}

func (lc *liveClient) Redirect(to, message string) {
	msg := LiveMessage{Type: "redirect", To: auth.LoginRedirect(to, message), Message: message}
	select {
	case lc.redirects <- msg:
	default:
		lc.logger.Debug("Dropping redirect, queue full")
	}
}

// Serve upgrades the request and runs one CommentView for the connection
// until the client goes away.
func (h *LiveHandler) Serve(c *gin.Context) {
	session := middleware.CurrentSession(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection",
			zap.String("origin", c.GetHeader("Origin")),
			zap.Error(err),
		)
		return
	}

	logger := h.logger.With(zap.String("client_ip", c.ClientIP()))
	if userID, ok := session.CurrentUser(); ok {
		logger = logger.With(zap.String("user_id", userID))
	}

	client := &liveClient{
		conn:      conn,
		redirects: make(chan LiveMessage, 4),
		logger:    logger,
	}
	view := services.NewCommentView(h.repo, session, client, logger,
		services.WithLoginURL(h.opts.LoginURL),
		services.WithRefetchDelay(h.opts.RefetchDelay),
		services.WithMetrics(h.metrics),
	)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// hijacked connections outlive server shutdown unless closed here
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	written := make(chan struct{})
	go func() {
		defer close(written)
		h.writePump(client, view)
	}()

	if err := view.Start(ctx); err != nil {
		logger.Warn("Live view started without data", zap.Error(err))
	}
	h.readPump(ctx, client, view)

	cancel()
	client.inflight.Wait()
	view.Close()
	<-written
	conn.Close()
	logger.Debug("Live view closed")
}

func (h *LiveHandler) readPump(ctx context.Context, client *liveClient, view *services.CommentView) {
	conn := client.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				client.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		var action LiveAction
		if err := json.Unmarshal(message, &action); err != nil {
			client.logger.Warn("Failed to parse message", zap.Error(err))
			continue
		}
		h.dispatch(ctx, client, view, action)
	}
}

// dispatch applies one client action. Failures already surface in the view
// banner, so they are only logged here.
func (h *LiveHandler) dispatch(ctx context.Context, client *liveClient, view *services.CommentView, action LiveAction) {
	var err error
	switch action.Action {
	case actionDraft:
		view.SetDraft(action.Text)
	case actionSubmit:
		err = view.SubmitComment(ctx)
	case actionReplyOpen:
		err = view.StartReply(action.ID)
	case actionReplyCancel:
		view.CancelReply()
	case actionReplyDraft:
		view.SetReplyDraft(action.Text)
	case actionReplySubmit:
		err = view.SubmitReply(ctx)
	case actionLike:
		// likes resolve in the background so the socket keeps reading
		client.inflight.Add(1)
		go func(id string) {
			defer client.inflight.Done()
			if err := view.ToggleLike(ctx, id); err != nil {
				client.logger.Debug("Like not applied", zap.String("comment_id", id), zap.Error(err))
			}
		}(action.ID)
	case actionDismiss:
		view.DismissError()
	case actionReload:
		err = view.Load(ctx)
	default:
		client.logger.Warn("Unknown live action", zap.String("action", action.Action))
		return
	}
	if err != nil {
		client.logger.Debug("Live action failed", zap.String("action", action.Action), zap.Error(err))
	}
}

func (h *LiveHandler) writePump(client *liveClient, view *services.CommentView) {
	conn := client.conn
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	updates := view.Updates()
	for {
		select {
		case state, ok := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(LiveMessage{Type: "state", State: &state}); err != nil {
				return
			}

		case msg := <-client.redirects:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
