package handlers

import (
	"context"
	"net/http"
	"time"

	"psychology/utils"

	"github.com/gin-gonic/gin"
)

const (
	oauthStateCookie = "gcal_oauth_state"
	oauthStateTTL    = 10 * time.Minute
)

type CalendarAuthorizer interface {
	AuthURL(ctx context.Context, state string) (string, error)
	Exchange(ctx context.Context, code string) error
}

// StateSigner mints and checks the consent flow state.
type StateSigner interface {
	GenerateToken(subject, role string, ttl time.Duration) (string, error)
	ValidateToken(tokenString string) (*utils.TokenClaims, error)
}

// GoogleAuthURLHandler starts the Google Calendar consent flow for the admin
// set on the context by the admin middleware. The state is a signed token
// naming that admin.
func GoogleAuthURLHandler(auth CalendarAuthorizer, states StateSigner) gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := c.GetString("adminID")
		if adminID == "" {
			utils.JSONError(c, http.StatusUnauthorized, "unauthorized", "Admin authentication required", "")
			return
		}
		state, err := states.GenerateToken(adminID, utils.RoleOAuthState, oauthStateTTL)
		if err != nil {
			utils.JSONError(c, http.StatusInternalServerError, "internal", "Failed to start Google authorization", err.Error())
			return
		}
		url, err := auth.AuthURL(c.Request.Context(), state)
		if err != nil {
			utils.JSONError(c, http.StatusInternalServerError, "internal", "Failed to start Google authorization", err.Error())
			return
		}
		c.SetCookie(oauthStateCookie, state, int(oauthStateTTL.Seconds()), "/", "", true, true)
		c.JSON(http.StatusOK, gin.H{"url": url})
	}
}

// GoogleCallbackHandler completes the consent flow. Google redirects the
// admin's browser here without a bearer token, so the request is admitted
// only with a state this service signed for an admin and set as a cookie on
// that same browser.
func GoogleCallbackHandler(auth CalendarAuthorizer, states StateSigner) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := c.Cookie(oauthStateCookie)
		if err != nil || state == "" || state != c.Query("state") {
			utils.JSONError(c, http.StatusBadRequest, "invalid_state", "OAuth state mismatch", "")
			return
		}
		claims, err := states.ValidateToken(state)
		if err != nil || claims.Role != utils.RoleOAuthState {
			utils.JSONError(c, http.StatusUnauthorized, "invalid_state", "OAuth state was not issued by this service", "")
			return
		}
		if e := c.Query("error"); e != "" {
			utils.JSONError(c, http.StatusBadRequest, "access_denied", "Google authorization was not granted", e)
			return
		}
		code := c.Query("code")
		if code == "" {
			utils.JSONError(c, http.StatusBadRequest, "invalid_input", "Missing authorization code", "")
			return
		}
		if err := auth.Exchange(c.Request.Context(), code); err != nil {
			utils.JSONError(c, http.StatusBadGateway, "exchange_failed", "Failed to connect Google Calendar", err.Error())
			return
		}
		c.SetCookie(oauthStateCookie, "", -1, "/", "", true, true)
		c.JSON(http.StatusOK, gin.H{"status": "connected"})
	}
}
