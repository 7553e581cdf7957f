package pipeline

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/tradecore/matchd/internal/common/errors"
	"github.com/tradecore/matchd/internal/engine"
)

// runMatcher is the only goroutine that mutates the book. It pins itself to
// an OS thread and runs each match to completion; its only suspension points
// are the two queue ends.
func (p *Pipeline) runMatcher() {
	defer p.matcherDone.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for msg := range p.inbound {
		p.met.InboundDepth.Set(float64(len(p.inbound)))
		switch msg.Kind {
		case KindSubmit:
			p.applySubmit(msg.Order)
		case KindCancel:
			if !p.core.OnCancel(msg.Cancel) {
				p.logger.Debug("cancel miss", zap.Uint64("order_id", msg.Cancel.OrderID))
			}
		}
	}
}

func (p *Pipeline) applySubmit(order engine.Order) {
	result, err := p.core.OnSubmit(order)
	if err != nil {
		p.met.OrdersRejected.WithLabelValues(string(errors.CodeOf(err))).Inc()
		p.logger.Warn("submission rejected",
			zap.Uint64("order_id", order.OrderID),
			zap.Uint64("price", order.Price),
			zap.Error(err))
		return
	}
	if result == nil || result.Empty() {
		return
	}

	p.met.MatchLatency.Observe(float64(result.EndTime-result.StartTime) / 1e9)

	// The core reuses its result buffer across match calls; hand the
	// broadcaster its own copy.
	owned := &engine.MatchResult{
		Executions: append([]engine.OrderExecution(nil), result.Executions...),
		StartTime:  result.StartTime,
		EndTime:    result.EndTime,
	}

	// Blocking here is the backpressure: a full outbound queue throttles
	// ingestion through the matcher.
	p.outbound <- owned
	p.met.OutboundDepth.Set(float64(len(p.outbound)))
}
