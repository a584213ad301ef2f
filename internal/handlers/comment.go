package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rujing/internal/middleware"
	"rujing/internal/models"
	"rujing/internal/services"
	"rujing/internal/utils"
)

type CommentHandler struct {
	repo   services.CommentRepository
	logger *zap.Logger
}

func NewCommentHandler(repo services.CommentRepository, logger *zap.Logger) *CommentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommentHandler{repo: repo, logger: logger}
}

type createCommentRequest struct {
	Content  string  `json:"content" form:"content"`
	ParentID *string `json:"parent_id" form:"parent_id"`
}

// List returns the thread tree and, for a signed-in caller, their like flags.
func (h *CommentHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	threads, err := h.repo.FetchAll(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	liked := h.likedFor(c, threads)
	c.JSON(http.StatusOK, gin.H{"comments": threads, "liked": liked})
}

// likedFor never fails the request; without flags every comment shows as not liked.
func (h *CommentHandler) likedFor(c *gin.Context, threads []*models.Comment) map[string]bool {
	liked := map[string]bool{}
	userID, ok := middleware.CurrentSession(c).CurrentUser()
	if !ok || len(threads) == 0 {
		return liked
	}
	flags, err := h.repo.CheckLiked(c.Request.Context(), utils.ThreadIDs(threads), userID)
	if err != nil {
		h.logger.Warn("Failed to check liked comments", zap.String("user_id", userID), zap.Error(err))
		return liked
	}
	for id, v := range flags {
		if v {
			liked[id] = true
		}
	}
	return liked
}

// Create posts a comment or, with parent_id, a reply. Routed behind AuthRequired.
func (h *CommentHandler) Create(c *gin.Context) {
	userID, _ := middleware.CurrentSession(c).CurrentUser()

	var req createCommentRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ParentID != nil && strings.TrimSpace(*req.ParentID) == "" {
		req.ParentID = nil
	}

	comment, err := h.repo.Add(c.Request.Context(), userID, req.Content, req.ParentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// Like toggles the caller's like on :id.
func (h *CommentHandler) Like(c *gin.Context) {
	userID, _ := middleware.CurrentSession(c).CurrentUser()

	result, err := h.repo.ToggleLike(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Liked answers ?ids=a,b with the subset the caller has liked.
func (h *CommentHandler) Liked(c *gin.Context) {
	userID, _ := middleware.CurrentSession(c).CurrentUser()
	ids := utils.SplitIDs(c.Query("ids"))

	liked, err := h.repo.CheckLiked(c.Request.Context(), ids, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": liked})
}
