// Package httpapi binds every surface's operations to gin routes,
// translating HTTP requests into pipeline calls and pipeline errors into
// the shared {detail, X-Error-Code} response contract via apierr.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/shopmindai/chatcore/internal/chatsurfaces/global"
	"github.com/shopmindai/chatcore/internal/chatsurfaces/private"
	"github.com/shopmindai/chatcore/internal/chatsurfaces/trivia"
	"github.com/shopmindai/chatcore/internal/dm"
	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/e2ee"
	"github.com/shopmindai/chatcore/internal/eventbus"
	"github.com/shopmindai/chatcore/internal/group"
	"github.com/shopmindai/chatcore/internal/mute"
	"github.com/shopmindai/chatcore/internal/platform/metrics"
	"github.com/shopmindai/chatcore/internal/presence"
	"github.com/shopmindai/chatcore/internal/sse"
	"github.com/shopmindai/chatcore/internal/wsrelay"
)

// AdminLookup reports whether a user is the designated admin account,
// gating operator-only routes such as global chat retention cleanup.
type AdminLookup interface {
	IsAdmin(ctx context.Context, userID domain.UserID) (bool, error)
}

// Dependencies bundles every component a route needs. All fields are
// required except WSHub, which is nil when the websocket transport is
// disabled for this deployment.
type Dependencies struct {
	Global   *global.Surface
	Trivia   *trivia.Surface
	Private  *private.Surface
	DM       *dm.Pipeline
	Group    *group.Pipeline
	E2EE     *e2ee.Registry
	Presence *presence.Tracker
	Mutes    *mute.Store
	Admins   AdminLookup
	SSE      *sse.Server
	WSHub    *wsrelay.Hub
	Bus      *eventbus.Bus
	Tokens   TokenVerifier
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics

	// TriviaEnabled gates the trivia-live routes; see registerTriviaRoutes.
	TriviaEnabled bool
}

// NewRouter assembles the gin engine: recovery, logging, metrics, auth, and
// every surface's routes.
func NewRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(deps.Metrics.GinMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(deps.Tokens))

	registerGlobalRoutes(api, deps.Global, deps.Admins)
	registerTriviaRoutes(api, deps.Trivia, deps.TriviaEnabled)
	registerPrivateRoutes(api, deps.Private)
	registerDMRoutes(api, deps.DM)
	registerGroupRoutes(api, deps.Group)
	registerE2EERoutes(api, deps.E2EE)
	registerPresenceRoutes(api, deps.Presence)
	registerMuteRoutes(api, deps.Mutes)
	registerRealtimeRoutes(r, api, deps)

	return r
}
