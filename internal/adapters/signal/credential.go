package signal

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const sessionCredentialKey = "credential"

// credentialFrom looks for the token in the Authorization header, then the
// token query parameter, then the browser session.
func credentialFrom(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := c.Query("token"); token != "" {
		return token
	}
	if v, ok := sessions.Default(c).Get(sessionCredentialKey).(string); ok {
		return v
	}
	return ""
}

type loginRequest struct {
	Token string `json:"token" binding:"required"`
}

// HandleLogin validates a token and keeps it in the cookie session, so
// browsers can upgrade without putting the token in the URL.
func (ctl *SignalWSController) HandleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	identity, err := ctl.Auth.Authenticate(c.Request.Context(), req.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}
	s := sessions.Default(c)
	s.Set(sessionCredentialKey, req.Token)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("session save")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return
	}
	c.JSON(http.StatusOK, identity)
}

func (ctl *SignalWSController) HandleLogout(c *gin.Context) {
	s := sessions.Default(c)
	s.Delete(sessionCredentialKey)
	_ = s.Save()
	c.Status(http.StatusNoContent)
}
