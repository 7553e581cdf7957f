package engine

import (
	"sort"

	"go.uber.org/zap"

	"github.com/tradecore/matchd/internal/clock"
)

// CallAuctionPool accumulates pre-open orders on two unordered sides and
// fixes a single equilibrium price across the batch.
type CallAuctionPool struct {
	bids []Order
	asks []Order

	instanceTag InstanceTag
	productID   uint16
	clk         clock.Clock
	logger      *zap.Logger
}

// NewCallAuctionPool creates an empty pool.
func NewCallAuctionPool(tag InstanceTag, productID uint16, clk clock.Clock, logger *zap.Logger) *CallAuctionPool {
	return &CallAuctionPool{
		instanceTag: tag,
		productID:   productID,
		clk:         clk,
		logger:      logger,
	}
}

// Add accumulates an order for the next auction. Unknown sides are dropped.
func (p *CallAuctionPool) Add(o Order) {
	switch o.Side {
	case SideBuy, SideMockBuy:
		p.bids = append(p.bids, o)
	case SideSell, SideMockSell:
		p.asks = append(p.asks, o)
	default:
		p.logger.Warn("dropping auction order with unknown side",
			zap.Uint64("order_id", o.OrderID), zap.Uint8("side", o.Side))
	}
}

// Cancel removes a pooled order by id, scanning both sides.
func (p *CallAuctionPool) Cancel(orderID uint64) bool {
	for i := range p.bids {
		if p.bids[i].OrderID == orderID {
			p.bids = append(p.bids[:i], p.bids[i+1:]...)
			return true
		}
	}
	for i := range p.asks {
		if p.asks[i].OrderID == orderID {
			p.asks = append(p.asks[:i], p.asks[i+1:]...)
			return true
		}
	}
	return false
}

// BidCount is the number of pooled bids.
func (p *CallAuctionPool) BidCount() int { return len(p.bids) }

// AskCount is the number of pooled asks.
func (p *CallAuctionPool) AskCount() int { return len(p.asks) }

// EquilibriumPrice sweeps the tick-aligned candidate set and returns the
// price maximizing executable volume. Ties prefer minimum absolute imbalance,
// then the lowest candidate. Returns false when nothing can execute.
func (p *CallAuctionPool) EquilibriumPrice(tick uint64) (price uint64, volume uint32, ok bool) {
	if len(p.bids) == 0 || len(p.asks) == 0 || tick == 0 {
		return 0, 0, false
	}

	candidates := p.candidatePrices(tick)

	// Bids sorted descending so rising candidates peel them off the tail;
	// asks ascending so they enter from the front.
	bidsByPrice := make([]Order, len(p.bids))
	copy(bidsByPrice, p.bids)
	sort.Slice(bidsByPrice, func(i, j int) bool { return bidsByPrice[i].Price > bidsByPrice[j].Price })

	asksByPrice := make([]Order, len(p.asks))
	copy(asksByPrice, p.asks)
	sort.Slice(asksByPrice, func(i, j int) bool { return asksByPrice[i].Price < asksByPrice[j].Price })

	var bidVol uint64
	for i := range bidsByPrice {
		bidVol += uint64(bidsByPrice[i].Quantity)
	}
	var askVol uint64

	bidPtr := len(bidsByPrice)
	askIdx := 0

	var bestPrice uint64
	var maxVolume uint64
	minImbalance := ^uint64(0)

	for _, candidate := range candidates {
		for bidPtr > 0 && bidsByPrice[bidPtr-1].Price < candidate {
			bidVol -= uint64(bidsByPrice[bidPtr-1].Quantity)
			bidPtr--
		}
		for askIdx < len(asksByPrice) && asksByPrice[askIdx].Price <= candidate {
			askVol += uint64(asksByPrice[askIdx].Quantity)
			askIdx++
		}

		executable := bidVol
		if askVol < executable {
			executable = askVol
		}
		imbalance := bidVol - askVol
		if askVol > bidVol {
			imbalance = askVol - bidVol
		}

		if executable > maxVolume {
			maxVolume = executable
			bestPrice = candidate
			minImbalance = imbalance
		} else if executable == maxVolume && maxVolume > 0 && imbalance < minImbalance {
			bestPrice = candidate
			minImbalance = imbalance
		}
	}

	if maxVolume == 0 {
		return 0, 0, false
	}
	if maxVolume > uint64(^uint32(0)) {
		maxVolume = uint64(^uint32(0))
	}
	return bestPrice, uint32(maxVolume), true
}

// candidatePrices derives the sorted, deduplicated sweep set: for each
// distinct order price, its tick floor plus one tick either way.
func (p *CallAuctionPool) candidatePrices(tick uint64) []uint64 {
	raw := make([]uint64, 0, len(p.bids)+len(p.asks))
	for i := range p.bids {
		raw = append(raw, p.bids[i].Price)
	}
	for i := range p.asks {
		raw = append(raw, p.asks[i].Price)
	}
	sort.Slice(raw, func(i, j int) bool { return raw[i] < raw[j] })

	candidates := make([]uint64, 0, 3*len(raw))
	var prev uint64
	seen := false
	for _, price := range raw {
		if seen && price == prev {
			continue
		}
		prev, seen = price, true
		base := (price / tick) * tick
		if base >= tick {
			candidates = append(candidates, base-tick)
		}
		candidates = append(candidates, base, base+tick)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	out := candidates[:0]
	for i, c := range candidates {
		if i > 0 && c == out[len(out)-1] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// RunAuction fixes the equilibrium price and fills both sides bilaterally at
// that price. Residual quantities of partially filled boundary orders and all
// ineligible orders remain pooled for the caller to dispose of.
func (p *CallAuctionPool) RunAuction(tick uint64) *MatchResult {
	now := p.clk.Now()
	result := &MatchResult{StartTime: now, EndTime: now}

	price, volume, ok := p.EquilibriumPrice(tick)
	if !ok {
		return result
	}

	eligibleBids, restBids := partitionOrders(p.bids, func(o *Order) bool { return o.Price >= price })
	eligibleAsks, restAsks := partitionOrders(p.asks, func(o *Order) bool { return o.Price <= price })

	// Price priority first, then time within a price.
	sort.SliceStable(eligibleBids, func(i, j int) bool {
		if eligibleBids[i].Price != eligibleBids[j].Price {
			return eligibleBids[i].Price > eligibleBids[j].Price
		}
		return eligibleBids[i].SubmitTime < eligibleBids[j].SubmitTime
	})
	sort.SliceStable(eligibleAsks, func(i, j int) bool {
		if eligibleAsks[i].Price != eligibleAsks[j].Price {
			return eligibleAsks[i].Price < eligibleAsks[j].Price
		}
		return eligibleAsks[i].SubmitTime < eligibleAsks[j].SubmitTime
	})

	remaining := volume
	bidIdx, askIdx := 0, 0
	for bidIdx < len(eligibleBids) && askIdx < len(eligibleAsks) && remaining > 0 {
		bid := &eligibleBids[bidIdx]
		ask := &eligibleAsks[askIdx]

		qty := bid.Quantity
		if ask.Quantity < qty {
			qty = ask.Quantity
		}
		if remaining < qty {
			qty = remaining
		}

		if qty > 0 {
			stamp := p.clk.Now()
			result.Executions = append(result.Executions, OrderExecution{
				InstanceTag:      p.instanceTag,
				ProductID:        p.productID,
				BuyOrderID:       bid.OrderID,
				SellOrderID:      ask.OrderID,
				Price:            price,
				Quantity:         qty,
				TradeTimeNetwork: saturatingElapsed(stamp, bid.SubmitTime),
				InternalMatch:    saturatingElapsed(stamp, result.StartTime),
				IsMock:           bid.IsMock() || ask.IsMock(),
			})
			bid.Quantity -= qty
			ask.Quantity -= qty
			remaining -= qty
		}

		if bid.Quantity == 0 {
			bidIdx++
		}
		if ask.Quantity == 0 {
			askIdx++
		}
	}

	// Partially filled boundary orders stay pooled with their residual.
	p.bids = restBids
	for i := range eligibleBids {
		if eligibleBids[i].Quantity > 0 {
			p.bids = append(p.bids, eligibleBids[i])
		}
	}
	p.asks = restAsks
	for i := range eligibleAsks {
		if eligibleAsks[i].Quantity > 0 {
			p.asks = append(p.asks, eligibleAsks[i])
		}
	}

	result.EndTime = p.clk.Now()
	return result
}

// Drain empties the pool, returning what was left in it.
func (p *CallAuctionPool) Drain() (bids, asks []Order) {
	bids, asks = p.bids, p.asks
	p.bids, p.asks = nil, nil
	return bids, asks
}

// SweepExpired drops pooled orders whose expiry is at or before now.
func (p *CallAuctionPool) SweepExpired(now uint64) int {
	removed := 0
	p.bids, removed = sweepExpiredOrders(p.bids, now, removed)
	p.asks, removed = sweepExpiredOrders(p.asks, now, removed)
	return removed
}

func sweepExpiredOrders(orders []Order, now uint64, removed int) ([]Order, int) {
	kept := orders[:0]
	for i := range orders {
		if orders[i].Expired(now) {
			removed++
			continue
		}
		kept = append(kept, orders[i])
	}
	return kept, removed
}

func partitionOrders(orders []Order, eligible func(*Order) bool) (in, out []Order) {
	for i := range orders {
		if eligible(&orders[i]) {
			in = append(in, orders[i])
		} else {
			out = append(out, orders[i])
		}
	}
	return in, out
}
