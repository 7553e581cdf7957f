// Package app assembles the engine, pipeline, and admin surface into one
// fx application.
package app

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tradecore/matchd/internal/api/handlers"
	"github.com/tradecore/matchd/internal/api/websocket"
	"github.com/tradecore/matchd/internal/clock"
	"github.com/tradecore/matchd/internal/config"
	"github.com/tradecore/matchd/internal/engine"
	"github.com/tradecore/matchd/internal/metrics"
	"github.com/tradecore/matchd/internal/pipeline"
)

// Module builds the full application graph for a loaded configuration.
func Module(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(NewLogger),
		fx.Provide(NewClock),
		fx.Provide(NewCore),
		fx.Provide(NewPipelineOptions),
		fx.Provide(NewServerParams),
		fx.Provide(NewTradeSink),
		metrics.Module,
		pipeline.Module,
		handlers.Module,
		fx.Invoke(RegisterPipeline),
	)
}

// NewLogger builds the production zap logger at the configured level.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

// NewClock provides the monotonic clock all latency stamps derive from.
func NewClock() clock.Clock {
	return clock.NewMonotonic()
}

// NewCore builds the engine core and seeds the test book when requested.
func NewCore(cfg *config.Config, clk clock.Clock, logger *zap.Logger) (*engine.Core, error) {
	core, err := engine.NewCore(engine.Params{
		InstanceTag: cfg.InstanceTag(),
		ProductID:   cfg.Instance.ProductID,
		Book: engine.BookParams{
			BasePrice: cfg.Book.BasePrice,
			Tick:      cfg.Book.Tick,
			MaxLevels: cfg.Book.MaxLevels,
		},
		DrainAuctionResiduals: cfg.Auction.DrainToBook,
		StartInAuction:        cfg.Auction.StartInAuction,
	}, clk, logger)
	if err != nil {
		return nil, err
	}
	if cfg.TestOrderBookSize > 0 {
		added := engine.SeedBook(core.Book(), cfg.TestOrderBookSize)
		logger.Info("seeded test order book",
			zap.Uint32("requested_per_side", cfg.TestOrderBookSize),
			zap.Int("added", added))
	}
	return core, nil
}

// NewPipelineOptions maps config onto pipeline queue sizing.
func NewPipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		InboundQueue:  cfg.Pipeline.InboundQueue,
		OutboundQueue: cfg.Pipeline.OutboundQueue,
		DropWhenFull:  cfg.Pipeline.DropWhenFull,
		StatsInterval: cfg.Pipeline.StatsInterval,
	}
}

// NewServerParams maps config onto the admin server address.
func NewServerParams(cfg *config.Config) handlers.ServerParams {
	return handlers.ServerParams{Addr: cfg.Admin.Addr}
}

// NewTradeSink adapts the websocket hub into the pipeline's sink port.
func NewTradeSink(hub *websocket.Hub) pipeline.TradeSink {
	return hub
}

// RegisterPipeline binds the sockets and runs the pipeline under the fx
// lifecycle.
func RegisterPipeline(lifecycle fx.Lifecycle, cfg *config.Config, pipe *pipeline.Pipeline, logger *zap.Logger) {
	var (
		inConn  net.PacketConn
		outConn net.Conn
	)

	lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			_, port, err := net.SplitHostPort(cfg.Network.ListenAddr)
			if err != nil {
				return fmt.Errorf("listen addr: %w", err)
			}
			// Multicast group joining is environment plumbing handled
			// outside the engine; binding the port is all it needs here.
			inConn, err = net.ListenPacket("udp4", ":"+port)
			if err != nil {
				return fmt.Errorf("bind inbound socket: %w", err)
			}
			outConn, err = net.Dial("udp4", cfg.Network.BroadcastAddr)
			if err != nil {
				inConn.Close()
				return fmt.Errorf("dial broadcast socket: %w", err)
			}
			logger.Info("pipeline starting",
				zap.String("listen", cfg.Network.ListenAddr),
				zap.String("broadcast", cfg.Network.BroadcastAddr))
			pipe.Start(inConn, outConn)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := pipe.Stop(ctx)
			if outConn != nil {
				outConn.Close()
			}
			return err
		},
	})
}
