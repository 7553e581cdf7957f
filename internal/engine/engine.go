package engine

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tradecore/matchd/internal/clock"
	"github.com/tradecore/matchd/internal/common/errors"
)

// Mode selects which component absorbs incoming flow.
type Mode int32

const (
	// ModeAuction pools orders for a single-price call auction.
	ModeAuction Mode = iota
	// ModeContinuous matches event by event against the ladder book.
	ModeContinuous
)

// Params configures one engine instance.
type Params struct {
	InstanceTag InstanceTag
	ProductID   uint16
	Book        BookParams
	// DrainAuctionResiduals moves residual limit orders into the continuous
	// book when the auction ends.
	DrainAuctionResiduals bool
	// StartInAuction begins in ModeAuction instead of ModeContinuous.
	StartInAuction bool
}

// Core owns the continuous book, the auction pool, and the engine counters.
// It is mutated by exactly one goroutine (the pipeline matcher); the atomic
// counters are the only state read concurrently, by the stats ticker and the
// admin API.
type Core struct {
	book *ContinuousBook
	pool *CallAuctionPool

	mode atomic.Int32

	matchedOrders  atomic.Uint64
	totalReceived  atomic.Uint64
	rejectedOrders atomic.Uint64
	bidsSize       atomic.Uint32
	asksSize       atomic.Uint32

	instanceTag InstanceTag
	productID   uint16
	startTime   uint64
	tick        uint64
	drain       bool

	clk    clock.Clock
	logger *zap.Logger
}

// NewCore assembles a core around a fresh book and pool.
func NewCore(params Params, clk clock.Clock, logger *zap.Logger) (*Core, error) {
	book, err := NewContinuousBook(params.Book, params.InstanceTag, params.ProductID, clk, logger)
	if err != nil {
		return nil, err
	}
	c := &Core{
		book:        book,
		pool:        NewCallAuctionPool(params.InstanceTag, params.ProductID, clk, logger),
		instanceTag: params.InstanceTag,
		productID:   params.ProductID,
		startTime:   clk.Now(),
		tick:        params.Book.Tick,
		drain:       params.DrainAuctionResiduals,
		clk:         clk,
		logger:      logger,
	}
	if params.StartInAuction {
		c.mode.Store(int32(ModeAuction))
	} else {
		c.mode.Store(int32(ModeContinuous))
	}
	return c, nil
}

// Book exposes the continuous book for seeding and tests.
func (c *Core) Book() *ContinuousBook { return c.book }

// Pool exposes the auction pool.
func (c *Core) Pool() *CallAuctionPool { return c.pool }

// Mode reports the current dispatch mode.
func (c *Core) Mode() Mode { return Mode(c.mode.Load()) }

// RecordReceived counts one well-formed inbound SUBMIT or CANCEL. Called by
// the receiver, never by OnSubmit, so the count is not doubled.
func (c *Core) RecordReceived() { c.totalReceived.Add(1) }

// OnSubmit applies one incoming order according to the current mode. The
// returned MatchResult is owned by the core and valid until the next call.
func (c *Core) OnSubmit(o Order) (*MatchResult, error) {
	if o.ProductID != c.productID {
		c.rejectedOrders.Add(1)
		return nil, errors.ErrProductMismatch
	}
	if Mode(c.mode.Load()) == ModeAuction {
		c.pool.Add(o)
		c.refreshSizes()
		return nil, nil
	}
	result, err := c.book.Match(o)
	if err != nil {
		c.rejectedOrders.Add(1)
		return nil, err
	}
	c.refreshSizes()
	return result, nil
}

// OnCancel routes a cancel to the active component. Unknown ids are a
// silent no-op returning false.
func (c *Core) OnCancel(req CancelRequest) bool {
	if req.ProductID != c.productID {
		return false
	}
	var removed bool
	if Mode(c.mode.Load()) == ModeAuction {
		removed = c.pool.Cancel(req.OrderID)
	} else {
		removed = c.book.Cancel(req.OrderID)
	}
	if removed {
		c.refreshSizes()
	}
	return removed
}

// BeginAuction switches incoming flow into the pool.
func (c *Core) BeginAuction() {
	c.mode.Store(int32(ModeAuction))
}

// EndAuction fires the call auction and switches to continuous trading.
// Expired pool orders are swept before pricing so they never trade. When
// residual draining is on, leftover limit orders move into the book; market
// and mock residuals are discarded, and residuals outside the ladder are
// dropped with a log line.
func (c *Core) EndAuction() *MatchResult {
	now := c.clk.Now()
	if swept := c.pool.SweepExpired(now); swept > 0 {
		c.logger.Info("swept expired auction orders", zap.Int("count", swept))
	}

	result := c.pool.RunAuction(c.tick)
	c.mode.Store(int32(ModeContinuous))

	if c.drain {
		bids, asks := c.pool.Drain()
		c.drainIntoBook(bids)
		c.drainIntoBook(asks)
	}
	c.refreshSizes()
	return result
}

func (c *Core) drainIntoBook(orders []Order) {
	for i := range orders {
		o := orders[i]
		if o.IsMock() || o.PriceType != PriceTypeLimit {
			continue
		}
		if err := c.book.AddResting(&o); err != nil {
			c.logger.Warn("dropping auction residual",
				zap.Uint64("order_id", o.OrderID),
				zap.Uint64("price", o.Price),
				zap.Error(err))
		}
	}
}

// IncrementMatched adds n broadcast executions to the matched counter.
// Called by the pipeline after a MatchResult is sent.
func (c *Core) IncrementMatched(n int) {
	if n > 0 {
		c.matchedOrders.Add(uint64(n))
	}
}

// RejectedOrders reports how many submissions the book refused.
func (c *Core) RejectedOrders() uint64 { return c.rejectedOrders.Load() }

// refreshSizes publishes the side sizes for concurrent stats reads. In
// auction mode the pool counts are the visible book.
func (c *Core) refreshSizes() {
	if Mode(c.mode.Load()) == ModeAuction {
		c.bidsSize.Store(uint32(c.pool.BidCount()))
		c.asksSize.Store(uint32(c.pool.AskCount()))
		return
	}
	c.bidsSize.Store(c.book.BidCount())
	c.asksSize.Store(c.book.AskCount())
}

// SnapshotStats produces the immutable stats view from atomics only; it is
// safe to call from any goroutine while the matcher runs.
func (c *Core) SnapshotStats() Stats {
	return Stats{
		InstanceTag:         c.instanceTag,
		ProductID:           c.productID,
		BidsSize:            c.bidsSize.Load(),
		AsksSize:            c.asksSize.Load(),
		MatchedOrders:       uint32(c.matchedOrders.Load()),
		TotalReceivedOrders: uint32(c.totalReceived.Load()),
		StartTime:           c.startTime,
	}
}
