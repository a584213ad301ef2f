package handlers

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rujing/internal/auth"
	"rujing/internal/middleware"
)

// ProfileStore loads profiles and drops cached ones on sign-in.
type ProfileStore interface {
	middleware.ProfileLoader
	ForgetProfile(userID string)
}

// AuthHandler bridges the hosted auth provider and the cookie session.
// Credentials never reach this service; it only sees signed tokens.
type AuthHandler struct {
	verifier *auth.TokenVerifier
	profiles ProfileStore
	logger   *zap.Logger
}

func NewAuthHandler(verifier *auth.TokenVerifier, profiles ProfileStore, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{verifier: verifier, profiles: profiles, logger: logger}
}

func (h *AuthHandler) ShowLogin(c *gin.Context) {
	if _, ok := middleware.CurrentSession(c).CurrentUser(); ok {
		c.Redirect(http.StatusFound, "/")
		return
	}
	Render(c, http.StatusOK, "auth/login.html", gin.H{
		"Title":   "Sign in",
		"Message": c.Query("message"),
	})
}

// CreateSession exchanges a provider token for a session cookie.
func (h *AuthHandler) CreateSession(c *gin.Context) {
	token := middleware.BearerToken(c)
	if token == "" {
		token = c.PostForm("access_token")
	}

	userID, err := h.verifier.Verify(token)
	if err != nil {
		h.logger.Debug("Rejected session token", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	session := sessions.Default(c)
	session.Set(middleware.SessionUserKey, userID)
	if err := session.Save(); err != nil {
		h.logger.Error("Failed to save session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save session"})
		return
	}

	h.profiles.ForgetProfile(userID)
	profile, err := h.profiles.Profile(c.Request.Context(), userID)
	if err != nil {
		h.logger.Warn("Failed to load profile", zap.String("user_id", userID), zap.Error(err))
	}
	middleware.CurrentSession(c).Init(userID, profile)
	h.logger.Info("Session established", zap.String("user_id", userID))

	if isHtmx(c) {
		HtmxRedirect(c, "/")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "user": profile})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		h.logger.Warn("Failed to clear session", zap.Error(err))
	}
	middleware.CurrentSession(c).Teardown()
	c.Redirect(http.StatusFound, "/")
}
