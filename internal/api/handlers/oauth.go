package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/service"
)

const oauthStateCookie = "catalogsync_oauth_state"

// HandleOAuthInstall handles GET /oauth/install?shop=<name>.myshopify.com
func HandleOAuthInstall(tenants *service.TenantService, secureCookies bool, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authorizeURL, state, err := tenants.InstallURL(c.Query("shop"))
		if err != nil {
			respondError(c, logger, err, "build install URL")
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(oauthStateCookie, state, 600, "/oauth", "", secureCookies, true)
		c.Redirect(http.StatusFound, authorizeURL)
	}
}

// HandleOAuthCallback handles GET /oauth/callback: checks the state nonce set by
// install, then verifies the HMAC and exchanges the code for a token
func HandleOAuthCallback(tenants *service.TenantService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := c.Query("state")
		expected, err := c.Cookie(oauthStateCookie)
		if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(expected)) != 1 {
			logger.Warn("OAuth callback state mismatch", zap.Bool("security_event", true), zap.String("shop", c.Query("shop")))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid oauth state"})
			return
		}

		tenant, err := tenants.CompleteOAuth(c.Request.Context(), c.Request.URL.Query())
		if err != nil {
			respondError(c, logger, err, "complete oauth")
			return
		}
		c.SetCookie(oauthStateCookie, "", -1, "/oauth", "", false, true)
		c.JSON(http.StatusOK, gin.H{"ok": true, "tenant": newTenantResponse(tenant)})
	}
}
