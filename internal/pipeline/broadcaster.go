package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/tradecore/matchd/internal/engine"
	"github.com/tradecore/matchd/internal/wire"
)

// runBroadcaster serializes match results into 50-byte trade frames and
// sends them to the outbound address. It drains the outbound queue fully
// before exiting, so a pending MatchResult is never lost on shutdown.
func (p *Pipeline) runBroadcaster() {
	defer p.broadcasterDone.Done()

	for result := range p.outbound {
		p.met.OutboundDepth.Set(float64(len(p.outbound)))
		p.broadcast(result)
	}
}

func (p *Pipeline) broadcast(result *engine.MatchResult) {
	for _, datagram := range wire.EncodeMatchResult(result) {
		if _, err := p.outConn.Write(datagram); err != nil {
			p.logger.Error("trade broadcast failed", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
		}
	}

	filled, mocked := 0, 0
	for i := range result.Executions {
		if result.Executions[i].IsMock {
			mocked++
		} else {
			filled++
		}
	}
	p.core.IncrementMatched(filled)
	p.met.TradesExecuted.Add(float64(filled))
	p.met.MockTrades.Add(float64(mocked))

	p.sink.Publish(result.Executions)
}
