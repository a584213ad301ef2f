package auth

import (
	"net/url"
	"strings"
)

// LoginRedirect builds the login URL carrying a message for the login page.
func LoginRedirect(loginURL, message string) string {
	if message == "" {
		return loginURL
	}
	sep := "?"
	if strings.Contains(loginURL, "?") {
		sep = "&"
	}
	return loginURL + sep + "message=" + url.QueryEscape(message)
}
