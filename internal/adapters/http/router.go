package http

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relaygw/internal/adapters/signal"
	"github.com/dkeye/relaygw/internal/app/session"
	"github.com/dkeye/relaygw/internal/config"
	"github.com/dkeye/relaygw/internal/metrics"
)

const (
	sessionName    = "relaygw"
	clientTokenKey = "client_token"
	restartMessage = "restart command executed"
)

var errRestartUnavailable = errors.New("restart is not available")

// SessionStatus exposes the read-only session snapshot.
type SessionStatus interface {
	Snapshot() session.Snapshot
}

type Deps struct {
	Gateway *signal.Gateway
	Status  SessionStatus
	Metrics *metrics.Metrics
	// Restart asks the host to re-execute; it must not block.
	Restart func()
}

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware keeps a stable per-browser token in the cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

// ErrorMiddleware turns handler errors into a plain 500 with the message text.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last()
		log.Error().Err(err.Err).Str("module", "adapters.http").Str("path", c.Request.URL.Path).Msg("request failed")
		c.String(http.StatusInternalServerError, err.Error())
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(ErrorMiddleware())

	store := cookie.NewStore([]byte(cfg.Server.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, Secure: cfg.TLSEnabled()})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	r.GET("/restart_server", func(c *gin.Context) {
		if deps.Restart == nil {
			_ = c.Error(errRestartUnavailable)
			return
		}
		log.Warn().Str("module", "adapters.http").Str("sid", c.GetString(clientTokenKey)).Msg("restart requested")
		c.String(http.StatusOK, restartMessage)
		deps.Restart()
	})

	api := r.Group("/api")
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString(clientTokenKey)).Msg("ws signal endpoint hit")
		deps.Gateway.HandleSignal(ctx, c)
	})
	api.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Status.Snapshot())
	})

	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	r.NoRoute(staticFiles(cfg.Server.StaticDirs))

	log.Info().Str("module", "adapters.http").Strs("static", cfg.Server.StaticDirs).Msg("router setup")
	return r
}

// staticFiles serves the first match across dirs, with index.html at "/".
func staticFiles(dirs []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Status(http.StatusNotFound)
			return
		}
		name := path.Clean("/" + c.Request.URL.Path)
		if name == "/" {
			name = "/index.html"
		}
		for _, dir := range dirs {
			p := filepath.Join(dir, filepath.FromSlash(name))
			if st, err := os.Stat(p); err == nil && !st.IsDir() {
				c.File(p)
				return
			}
		}
		c.String(http.StatusNotFound, "not found")
	}
}
