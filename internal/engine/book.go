package engine

import (
	"go.uber.org/zap"

	"github.com/tradecore/matchd/internal/clock"
	"github.com/tradecore/matchd/internal/common/errors"
)

// locator records where a resting order lives, enough to find it again in
// O(1) without back-pointers inside the order itself.
type locator struct {
	side  uint8 // SideBuy or SideSell
	level int
}

// ordersBucket is the FIFO of resting orders at one exact price. Head is
// index 0; time priority is tail placement.
type ordersBucket struct {
	orders []*Order
}

func (b *ordersBucket) empty() bool {
	return len(b.orders) == 0
}

func (b *ordersBucket) push(o *Order) {
	b.orders = append(b.orders, o)
}

func (b *ordersBucket) popHead() *Order {
	o := b.orders[0]
	b.orders[0] = nil
	b.orders = b.orders[1:]
	return o
}

// ContinuousBook is a fixed price ladder: one bucket per tick on each side,
// indexed by (price - basePrice) / tick. The best cursors bound all non-empty
// buckets and self-correct lazily during matching.
type ContinuousBook struct {
	basePrice uint64
	tick      uint64
	maxLevels int

	bids []ordersBucket
	asks []ordersBucket

	bestBid int // highest index with bid volume, -1 when empty
	bestAsk int // lowest index with ask volume, maxLevels when empty

	totalBidVolume uint64
	totalAskVolume uint64
	bidCount       uint32
	askCount       uint32

	orderIndex map[uint64]locator

	instanceTag InstanceTag
	productID   uint16
	clk         clock.Clock
	logger      *zap.Logger

	result MatchResult
}

// BookParams sizes the price ladder.
type BookParams struct {
	BasePrice uint64
	Tick      uint64
	MaxLevels int
}

// NewContinuousBook creates an empty ladder book.
func NewContinuousBook(params BookParams, tag InstanceTag, productID uint16, clk clock.Clock, logger *zap.Logger) (*ContinuousBook, error) {
	if params.Tick == 0 {
		return nil, errors.ErrInvalidTick
	}
	if params.MaxLevels <= 0 {
		return nil, errors.New(errors.CodePriceOutOfRange, "ladder needs at least one level")
	}
	return &ContinuousBook{
		basePrice:   params.BasePrice,
		tick:        params.Tick,
		maxLevels:   params.MaxLevels,
		bids:        make([]ordersBucket, params.MaxLevels),
		asks:        make([]ordersBucket, params.MaxLevels),
		bestBid:     -1,
		bestAsk:     params.MaxLevels,
		orderIndex:  make(map[uint64]locator),
		instanceTag: tag,
		productID:   productID,
		clk:         clk,
		logger:      logger,
	}, nil
}

// levelFor maps a price onto the ladder.
func (b *ContinuousBook) levelFor(price uint64) (int, error) {
	if price < b.basePrice {
		return 0, errors.Newf(errors.CodePriceOutOfRange, "price %d below ladder base %d", price, b.basePrice)
	}
	level := int((price - b.basePrice) / b.tick)
	if level >= b.maxLevels {
		return 0, errors.Newf(errors.CodePriceOutOfRange, "price %d beyond ladder top", price)
	}
	return level, nil
}

// levelPrice is the exact price of a ladder slot.
func (b *ContinuousBook) levelPrice(level int) uint64 {
	return b.basePrice + uint64(level)*b.tick
}

// AddResting appends an order at the tail of its price bucket. Tail placement
// enforces time priority; price priority is which level gets scanned first.
func (b *ContinuousBook) AddResting(o *Order) error {
	if o.Quantity == 0 {
		return errors.New(errors.CodeInvalidSide, "resting order needs quantity")
	}
	if _, dup := b.orderIndex[o.OrderID]; dup {
		return errors.ErrDuplicateOrder
	}
	level, err := b.levelFor(o.Price)
	if err != nil {
		return err
	}
	switch o.Side {
	case SideBuy:
		b.bids[level].push(o)
		if level > b.bestBid {
			b.bestBid = level
		}
		b.totalBidVolume += uint64(o.Quantity)
		b.bidCount++
	case SideSell:
		b.asks[level].push(o)
		if level < b.bestAsk {
			b.bestAsk = level
		}
		b.totalAskVolume += uint64(o.Quantity)
		b.askCount++
	default:
		return errors.ErrInvalidSide
	}
	b.orderIndex[o.OrderID] = locator{side: restingSide(o.Side), level: level}
	return nil
}

func restingSide(side uint8) uint8 {
	if side == SideBuy || side == SideMockBuy {
		return SideBuy
	}
	return SideSell
}

// Match is the single entrypoint for an incoming order. It clears the
// previous result, matches against the opposite side, and rests any limit
// residual. Market residual is discarded; mock orders leave the book
// untouched and emit executions flagged as mock.
func (b *ContinuousBook) Match(incoming Order) (*MatchResult, error) {
	b.result.Executions = b.result.Executions[:0]
	b.result.StartTime = b.clk.Now()
	b.result.EndTime = b.result.StartTime

	if incoming.PriceType == PriceTypeLimit {
		if _, err := b.levelFor(incoming.Price); err != nil {
			return nil, err
		}
	}
	if !incoming.IsMock() {
		if _, dup := b.orderIndex[incoming.OrderID]; dup {
			return nil, errors.ErrDuplicateOrder
		}
	}

	switch incoming.Side {
	case SideBuy, SideSell:
		b.matchReal(&incoming)
	case SideMockBuy, SideMockSell:
		b.matchMock(&incoming)
	default:
		return nil, errors.ErrInvalidSide
	}

	if incoming.Quantity > 0 && incoming.PriceType == PriceTypeLimit && !incoming.IsMock() {
		resting := incoming
		if err := b.AddResting(&resting); err != nil {
			// Range and duplicate were checked above; only an invalid side
			// could land here and that was dispatched on already.
			return nil, err
		}
	}

	b.result.EndTime = b.clk.Now()
	return &b.result, nil
}

// matchReal consumes makers from the opposite side under price-time priority.
func (b *ContinuousBook) matchReal(incoming *Order) {
	buySide := incoming.IsBuySide()
	now := b.clk.Now()

	for incoming.Quantity > 0 {
		var level int
		if buySide {
			level = b.bestAsk
			if level >= b.maxLevels {
				return
			}
			if b.asks[level].empty() {
				b.bestAsk++ // lazy cursor repair
				continue
			}
		} else {
			level = b.bestBid
			if level < 0 {
				return
			}
			if b.bids[level].empty() {
				b.bestBid--
				continue
			}
		}

		bucket := b.bucketAt(buySide, level)
		maker := bucket.orders[0]

		if maker.Expired(now) {
			b.removeHead(buySide, level)
			continue
		}

		if incoming.PriceType == PriceTypeLimit {
			if buySide && incoming.Price < maker.Price {
				return
			}
			if !buySide && incoming.Price > maker.Price {
				return
			}
		}

		qty := incoming.Quantity
		if maker.Quantity < qty {
			qty = maker.Quantity
		}
		incoming.Quantity -= qty
		maker.Quantity -= qty
		if buySide {
			b.totalAskVolume -= uint64(qty)
		} else {
			b.totalBidVolume -= uint64(qty)
		}

		b.emit(incoming, maker, qty, false)

		if maker.Quantity == 0 {
			b.removeHead(buySide, level)
		}
	}
}

// matchMock walks the same path read-only: local cursors, no quantity
// decrements, no removals. Each maker is visited at most once, so tracking
// consumed quantity per maker is unnecessary.
func (b *ContinuousBook) matchMock(incoming *Order) {
	buySide := incoming.IsBuySide()
	now := b.clk.Now()
	remaining := incoming.Quantity

	level := b.bestAsk
	if !buySide {
		level = b.bestBid
	}

	for remaining > 0 {
		if buySide && level >= b.maxLevels {
			return
		}
		if !buySide && level < 0 {
			return
		}
		bucket := b.bucketAt(buySide, level)
		for _, maker := range bucket.orders {
			if remaining == 0 {
				return
			}
			if maker.Expired(now) {
				continue
			}
			if incoming.PriceType == PriceTypeLimit {
				if buySide && incoming.Price < maker.Price {
					return
				}
				if !buySide && incoming.Price > maker.Price {
					return
				}
			}
			qty := remaining
			if maker.Quantity < qty {
				qty = maker.Quantity
			}
			remaining -= qty
			b.emit(incoming, maker, qty, true)
		}
		if buySide {
			level++
		} else {
			level--
		}
	}
}

func (b *ContinuousBook) bucketAt(askSide bool, level int) *ordersBucket {
	if askSide {
		return &b.asks[level]
	}
	return &b.bids[level]
}

// removeHead pops the head maker of a bucket and forgets it in the index.
// Any quantity still on the order (expiry sweep path) leaves the side total.
func (b *ContinuousBook) removeHead(askSide bool, level int) {
	bucket := b.bucketAt(askSide, level)
	o := bucket.popHead()
	delete(b.orderIndex, o.OrderID)
	if askSide {
		b.totalAskVolume -= uint64(o.Quantity)
		b.askCount--
	} else {
		b.totalBidVolume -= uint64(o.Quantity)
		b.bidCount--
	}
}

// emit appends one execution to the in-flight result.
func (b *ContinuousBook) emit(taker, maker *Order, qty uint32, mock bool) {
	buyID, sellID := taker.OrderID, maker.OrderID
	if taker.IsSellSide() {
		buyID, sellID = maker.OrderID, taker.OrderID
	}
	now := b.clk.Now()
	b.result.Executions = append(b.result.Executions, OrderExecution{
		InstanceTag:      b.instanceTag,
		ProductID:        taker.ProductID,
		BuyOrderID:       buyID,
		SellOrderID:      sellID,
		Price:            maker.Price,
		Quantity:         qty,
		TradeTimeNetwork: saturatingElapsed(now, taker.SubmitTime),
		InternalMatch:    saturatingElapsed(now, b.result.StartTime),
		IsMock:           mock || taker.IsMock(),
	})
}

// saturatingElapsed clamps end-submit into u32, returning 0 on clock skew or
// overflow, matching the wire field width.
func saturatingElapsed(end, start uint64) uint32 {
	if end < start {
		return 0
	}
	d := end - start
	if d > uint64(^uint32(0)) {
		return 0
	}
	return uint32(d)
}

// Cancel removes a resting order by id. The locator gives the bucket in
// O(1); the scan inside the one bucket is linear. Cursors are not repaired
// here, they self-correct at the next match step.
func (b *ContinuousBook) Cancel(orderID uint64) bool {
	loc, ok := b.orderIndex[orderID]
	if !ok {
		return false
	}
	var bucket *ordersBucket
	if loc.side == SideBuy {
		bucket = &b.bids[loc.level]
	} else {
		bucket = &b.asks[loc.level]
	}
	for i, o := range bucket.orders {
		if o.OrderID != orderID {
			continue
		}
		bucket.orders = append(bucket.orders[:i], bucket.orders[i+1:]...)
		if loc.side == SideBuy {
			b.totalBidVolume -= uint64(o.Quantity)
			b.bidCount--
		} else {
			b.totalAskVolume -= uint64(o.Quantity)
			b.askCount--
		}
		delete(b.orderIndex, orderID)
		return true
	}
	// Index said the order was here; treat a miss as a cancel miss rather
	// than corrupting totals.
	b.logger.Error("order index inconsistent with bucket",
		zap.Uint64("order_id", orderID), zap.Int("level", loc.level))
	return false
}

// SweepExpired removes every resting order whose expiry is at or before now.
// Matching already sweeps lazily at bucket heads; this is the proactive pass.
func (b *ContinuousBook) SweepExpired(now uint64) int {
	removed := 0
	for level := 0; level < b.maxLevels; level++ {
		removed += b.sweepBucket(&b.bids[level], SideBuy, now)
		removed += b.sweepBucket(&b.asks[level], SideSell, now)
	}
	return removed
}

func (b *ContinuousBook) sweepBucket(bucket *ordersBucket, side uint8, now uint64) int {
	removed := 0
	kept := bucket.orders[:0]
	for _, o := range bucket.orders {
		if !o.Expired(now) {
			kept = append(kept, o)
			continue
		}
		delete(b.orderIndex, o.OrderID)
		if side == SideBuy {
			b.totalBidVolume -= uint64(o.Quantity)
			b.bidCount--
		} else {
			b.totalAskVolume -= uint64(o.Quantity)
			b.askCount--
		}
		removed++
	}
	for i := len(kept); i < len(bucket.orders); i++ {
		bucket.orders[i] = nil
	}
	bucket.orders = kept
	return removed
}

// TotalBidVolume is the summed remaining quantity across bid buckets.
func (b *ContinuousBook) TotalBidVolume() uint64 { return b.totalBidVolume }

// TotalAskVolume is the summed remaining quantity across ask buckets.
func (b *ContinuousBook) TotalAskVolume() uint64 { return b.totalAskVolume }

// BidCount is the number of resting bid orders.
func (b *ContinuousBook) BidCount() uint32 { return b.bidCount }

// AskCount is the number of resting ask orders.
func (b *ContinuousBook) AskCount() uint32 { return b.askCount }

// BestBid returns the best bid price, false when the bid side is empty.
func (b *ContinuousBook) BestBid() (uint64, bool) {
	for level := b.bestBid; level >= 0; level-- {
		if !b.bids[level].empty() {
			return b.levelPrice(level), true
		}
	}
	return 0, false
}

// BestAsk returns the best ask price, false when the ask side is empty.
func (b *ContinuousBook) BestAsk() (uint64, bool) {
	for level := b.bestAsk; level < b.maxLevels; level++ {
		if !b.asks[level].empty() {
			return b.levelPrice(level), true
		}
	}
	return 0, false
}
