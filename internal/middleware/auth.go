package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rujing/internal/auth"
	"rujing/internal/models"
)

const (
	CheckUserKey   = "user"
	SessionUserKey = "user_id"
)

// ProfileLoader resolves the signed-in user's profile.
type ProfileLoader interface {
	Profile(ctx context.Context, userID string) (*models.UserProfile, error)
}

// LoadUser attaches an auth.Session to every request. The user comes from
// the session cookie, or failing that from a bearer token.
func LoadUser(profiles ProfileLoader, verifier *auth.TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		s := auth.NewSession()

		userID, _ := sessions.Default(c).Get(SessionUserKey).(string)
		if userID == "" {
			if token := BearerToken(c); token != "" {
				if id, err := verifier.Verify(token); err == nil {
					userID = id
				} else {
					logger.Debug("Ignoring invalid bearer token", zap.Error(err))
				}
			}
		}

		if userID != "" {
			profile, err := profiles.Profile(c.Request.Context(), userID)
			if err != nil {
				logger.Warn("Failed to load profile", zap.String("user_id", userID), zap.Error(err))
			}
			s.Init(userID, profile)
		}

		c.Set(CheckUserKey, s)
		c.Next()
	}
}

// CurrentSession returns the request's session, empty when LoadUser did not run.
func CurrentSession(c *gin.Context) *auth.Session {
	if v, ok := c.Get(CheckUserKey); ok {
		if s, ok := v.(*auth.Session); ok {
			return s
		}
	}
	return auth.NewSession()
}

// AuthRequired sends anonymous callers to the login flow with message.
// HTMX callers get an HX-Redirect, API callers a 401 naming the login URL,
// and browsers a plain redirect.
func AuthRequired(loginURL, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentSession(c).CurrentUser(); ok {
			c.Next()
			return
		}

		target := auth.LoginRedirect(loginURL, message)
		switch {
		case c.GetHeader("HX-Request") == "true":
			c.Header("HX-Redirect", target)
			c.AbortWithStatus(http.StatusOK)
		case strings.HasPrefix(c.Request.URL.Path, "/api/"):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":    "must be authenticated",
				"redirect": target,
			})
		default:
			c.Redirect(http.StatusFound, target)
			c.Abort()
		}
	}
}

func BearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
