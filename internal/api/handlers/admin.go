package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tradecore/matchd/internal/api/websocket"
	"github.com/tradecore/matchd/internal/engine"
)

// statsView is the JSON rendering of the engine stats snapshot.
type statsView struct {
	InstanceTag         string `json:"instance_tag"`
	ProductID           uint16 `json:"product_id"`
	Mode                string `json:"mode"`
	BidsSize            uint32 `json:"bids_size"`
	AsksSize            uint32 `json:"asks_size"`
	MatchedOrders       uint32 `json:"matched_orders"`
	TotalReceivedOrders uint32 `json:"total_received_orders"`
	RejectedOrders      uint64 `json:"rejected_orders"`
	StartTime           uint64 `json:"start_time_ns"`
	FeedClients         int    `json:"feed_clients"`
}

// NewRouter builds the admin surface: health, stats snapshot, Prometheus
// metrics, and the websocket trade feed.
func NewRouter(core *engine.Core, registry *prometheus.Registry, hub *websocket.Hub, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/stats", func(c *gin.Context) {
		stats := core.SnapshotStats()
		mode := "continuous"
		if core.Mode() == engine.ModeAuction {
			mode = "auction"
		}
		c.JSON(http.StatusOK, statsView{
			InstanceTag:         tagString(stats.InstanceTag),
			ProductID:           stats.ProductID,
			Mode:                mode,
			BidsSize:            stats.BidsSize,
			AsksSize:            stats.AsksSize,
			MatchedOrders:       stats.MatchedOrders,
			TotalReceivedOrders: stats.TotalReceivedOrders,
			RejectedOrders:      core.RejectedOrders(),
			StartTime:           stats.StartTime,
			FeedClients:         hub.ClientCount(),
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	router.GET("/ws/trades", func(c *gin.Context) {
		hub.HandleConnection(c.Writer, c.Request)
	})

	return router
}

// tagString trims the zero padding off a wire tag.
func tagString(tag engine.InstanceTag) string {
	end := len(tag)
	for end > 0 && tag[end-1] == 0 {
		end--
	}
	return string(tag[:end])
}

// ServerParams carries the listen address into the fx module.
type ServerParams struct {
	Addr string
}

// RegisterServer runs the admin HTTP server under the fx lifecycle.
func RegisterServer(lifecycle fx.Lifecycle, params ServerParams, router *gin.Engine, logger *zap.Logger) {
	server := &http.Server{
		Addr:    params.Addr,
		Handler: router,
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting admin server", zap.String("addr", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("admin server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping admin server")
			return server.Shutdown(ctx)
		},
	})
}

// Module wires the admin router and server.
var Module = fx.Options(
	fx.Provide(websocket.NewHub),
	fx.Provide(NewRouter),
	fx.Invoke(RegisterServer),
)
