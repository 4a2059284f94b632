package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Intercom/internal/adapters/signal"
	"github.com/dkeye/Intercom/internal/app/orch"
	"github.com/dkeye/Intercom/internal/auth"
	"github.com/dkeye/Intercom/internal/config"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/metrics"
	"github.com/gin-gonic/gin"
	goerrors "github.com/goliatone/go-errors"
	"github.com/rs/zerolog/log"
)

const identityKey = "identity"

// RequireIdentity authenticates REST calls with the same credential the
// websocket accepts.
func RequireIdentity(gate signal.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := gate.Authenticate(c.Request.Context(), auth.CredentialFrom(c.Request))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func identityOf(c *gin.Context) domain.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(domain.Identity)
	return id
}

func abortWithError(c *gin.Context, err error) {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code != 0 {
		c.AbortWithStatusJSON(rich.Code, gin.H{"error": rich.Message, "code": rich.TextCode})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, gate signal.Authenticator, limiter *signal.RateLimiter, m *metrics.Metrics) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ctrl := signal.NewSignalWSController(o, gate, limiter, m, signal.OptionsFrom(cfg))
	ws := func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	}
	r.GET("/ws", ws)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": o.Registry.Len()})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	api := r.Group("/api")
	api.GET("/ws/signal", ws)
	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": cfg.WebRTCICEServers()})
	})

	authed := api.Group("", RequireIdentity(gate))
	authed.GET("/online", func(c *gin.Context) {
		me := identityOf(c)
		c.JSON(http.StatusOK, gin.H{"users": o.Online(me.ID)})
	})
	authed.GET("/call", func(c *gin.Context) {
		me := identityOf(c)
		session, state, ok := o.CallOf(me.ID)
		resp := gin.H{"state": state}
		if ok {
			resp["peerId"] = session.Pair.Other(me.ID)
			resp["since"] = session.StartedAt
		}
		c.JSON(http.StatusOK, resp)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
