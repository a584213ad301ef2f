package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rujing/internal/middleware"
	"rujing/internal/repository"
)

const msgUnavailable = "service temporarily unavailable"

// Render injects the signed-in user and current path before rendering name.
func Render(c *gin.Context, code int, name string, obj gin.H) {
	if obj == nil {
		obj = gin.H{}
	}

	session := middleware.CurrentSession(c)
	if _, ok := session.CurrentUser(); ok {
		obj["SignedIn"] = true
		obj["CurrentUser"] = session.Profile()
	}
	obj["CurrentPath"] = c.Request.URL.Path

	c.HTML(code, name, obj)
}

// HtmxRedirect lets HTMX follow the redirect on the client side.
func HtmxRedirect(c *gin.Context, path string) {
	c.Header("HX-Redirect", path)
	c.Status(http.StatusOK)
}

func RenderError(c *gin.Context, code int, message string) {
	Render(c, code, "error.html", gin.H{"Error": message})
}

func isHtmx(c *gin.Context) bool {
	return c.GetHeader("HX-Request") == "true"
}

// respondError maps repository errors onto status codes. Store failures are
// reported with a generic message; their details only go to the log.
func respondError(c *gin.Context, err error) {
	switch {
	case repository.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case repository.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": msgUnavailable})
	}
}
