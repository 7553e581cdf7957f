// Package pipeline couples the network receiver, the single-threaded
// matcher, and the trade broadcaster through bounded FIFO queues. The book
// is touched by exactly one goroutine; everything crossing a stage boundary
// goes through a channel.
package pipeline

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tradecore/matchd/internal/engine"
	"github.com/tradecore/matchd/internal/metrics"
)

// MessageKind discriminates inbound queue entries.
type MessageKind uint8

const (
	// KindSubmit is an order submission.
	KindSubmit MessageKind = iota + 1
	// KindCancel is a cancel request.
	KindCancel
)

// Message is one typed inbound queue entry.
type Message struct {
	Kind   MessageKind
	Order  engine.Order
	Cancel engine.CancelRequest
}

// TradeSink receives broadcast executions for secondary consumers (the
// websocket feed). Publish must not block the broadcaster.
type TradeSink interface {
	Publish(executions []engine.OrderExecution)
}

// NopSink discards executions.
type NopSink struct{}

func (NopSink) Publish([]engine.OrderExecution) {}

// Options sizes the queues and the stats interval.
type Options struct {
	InboundQueue  int
	OutboundQueue int
	// DropWhenFull makes the receiver drop frames instead of blocking when
	// the inbound queue is full.
	DropWhenFull  bool
	StatsInterval time.Duration
}

// Pipeline runs the receiver, matcher, broadcaster, and stats ticker.
type Pipeline struct {
	opts Options
	core *engine.Core
	met  *metrics.EngineMetrics
	sink TradeSink

	inbound  chan Message
	outbound chan *engine.MatchResult

	inConn  net.PacketConn
	outConn net.Conn

	closing atomic.Bool
	stop    chan struct{}

	receiverDone    sync.WaitGroup
	matcherDone     sync.WaitGroup
	broadcasterDone sync.WaitGroup
	tickerDone      sync.WaitGroup

	logger *zap.Logger
}

// New creates a pipeline around an engine core. Sockets are attached at
// Start so tests can drive the stages directly.
func New(opts Options, core *engine.Core, met *metrics.EngineMetrics, sink TradeSink, logger *zap.Logger) *Pipeline {
	if sink == nil {
		sink = NopSink{}
	}
	return &Pipeline{
		opts:     opts,
		core:     core,
		met:      met,
		sink:     sink,
		inbound:  make(chan Message, opts.InboundQueue),
		outbound: make(chan *engine.MatchResult, opts.OutboundQueue),
		stop:     make(chan struct{}),
		logger:   logger,
	}
}

// Start launches all stages. inConn feeds the receiver; outConn is the
// broadcast socket shared by the broadcaster and the stats ticker.
func (p *Pipeline) Start(inConn net.PacketConn, outConn net.Conn) {
	p.inConn = inConn
	p.outConn = outConn

	p.matcherDone.Add(1)
	go p.runMatcher()

	p.broadcasterDone.Add(1)
	go p.runBroadcaster()

	p.tickerDone.Add(1)
	go p.runStatsTicker()

	p.receiverDone.Add(1)
	go p.runReceiver()
}

// Stop shuts the stages down in pipeline order: the receiver first, then the
// matcher drains the inbound queue, then the broadcaster drains the outbound
// queue. A pending MatchResult is always serialized before exit.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.closing.Store(true)
	close(p.stop)
	if p.inConn != nil {
		_ = p.inConn.Close() // unblocks the receiver read
	}

	done := make(chan struct{})
	go func() {
		p.receiverDone.Wait()
		close(p.inbound)
		p.matcherDone.Wait()
		close(p.outbound)
		p.broadcasterDone.Wait()
		p.tickerDone.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("pipeline stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Module wires the pipeline into the fx application.
var Module = fx.Options(
	fx.Provide(New),
)
