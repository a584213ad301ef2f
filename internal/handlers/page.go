package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Page renders the comment section server side. The live socket takes over
// once the page script connects.
func (h *CommentHandler) Page(c *gin.Context) {
	threads, err := h.repo.FetchAll(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to load comments for page", zap.Error(err))
		RenderError(c, http.StatusBadGateway, "Failed to load comments")
		return
	}

	Render(c, http.StatusOK, "comments/index.html", gin.H{
		"Title":    "Traveller comments",
		"Comments": threads,
		"Liked":    h.likedFor(c, threads),
	})
}
