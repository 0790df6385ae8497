package http

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/dkeye/collabhub/internal/adapters/signal"
	"github.com/dkeye/collabhub/internal/app/orch"
	"github.com/dkeye/collabhub/internal/config"
	"github.com/dkeye/collabhub/internal/core"
	transport "github.com/dkeye/collabhub/internal/transport/http"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const sessionName = "CollabSession"

// credentialParams are query parameters never written to the request log.
var credentialParams = []string{"token"}

// SetupRouter builds the engine. history may be nil when persistence is off.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, auth core.Authenticator, history transport.HistorySource) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(requestLogger(gin.DefaultWriter))
	}
	r.Use(gin.Recovery())

	secret := cfg.Auth.SessionSecret
	if secret == "" {
		secret = cfg.Auth.Secret
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))

	status := &transport.StatusHandlers{Rooms: o.Registry, Sessions: o, History: history, Started: time.Now()}
	status.Register(r)

	ctrl := signal.NewSignalWSController(o, auth, signal.Options{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		IdleTimeout:    cfg.IdleTimeout,
		WriteWait:      cfg.WriteWait,
		SendQueueSize:  cfg.SendQueueSize,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	api := r.Group("/api")
	api.POST("/session", ctrl.HandleLogin)
	api.DELETE("/session", ctrl.HandleLogout)
	api.GET("/ws", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Int("port", cfg.Port).Msg("router setup")
	return r
}

func requestLogger(out io.Writer) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{Formatter: requestLogFormatter, Output: out})
}

// requestLogFormatter is gin's default line with credentials masked.
func requestLogFormatter(p gin.LogFormatterParams) string {
	return fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v\n%s",
		p.TimeStamp.Format("2006/01/02 - 15:04:05"),
		p.StatusCode,
		p.Latency,
		p.ClientIP,
		p.Method,
		redactQuery(p.Path),
		p.ErrorMessage,
	)
}

func redactQuery(path string) string {
	base, query, ok := strings.Cut(path, "?")
	if !ok {
		return path
	}
	pairs := strings.Split(query, "&")
	for i, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if slices.Contains(credentialParams, key) {
			pairs[i] = key + "=REDACTED"
		}
	}
	return base + "?" + strings.Join(pairs, "&")
}
