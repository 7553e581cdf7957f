package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/tradecore/matchd/internal/wire"
)

// runStatsTicker broadcasts one STATS frame per interval from a non-blocking
// snapshot of the engine counters. It never touches book state.
func (p *Pipeline) runStatsTicker() {
	defer p.tickerDone.Done()

	ticker := time.NewTicker(p.opts.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.broadcastStats()
		case <-p.stop:
			return
		}
	}
}

func (p *Pipeline) broadcastStats() {
	stats := p.core.SnapshotStats()
	frame := wire.EncodeStats(&stats)
	if _, err := p.outConn.Write(frame[:]); err != nil {
		p.logger.Error("stats broadcast failed", zap.Error(err))
		return
	}
	p.met.StatsBroadcast.Inc()
	p.met.RestingOrders.WithLabelValues("bid").Set(float64(stats.BidsSize))
	p.met.RestingOrders.WithLabelValues("ask").Set(float64(stats.AsksSize))
	p.logger.Info("stats broadcast",
		zap.Uint32("bids", stats.BidsSize),
		zap.Uint32("asks", stats.AsksSize),
		zap.Uint32("matched", stats.MatchedOrders),
		zap.Uint32("received", stats.TotalReceivedOrders))
}
