package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradecore/matchd/internal/clock"
	"github.com/tradecore/matchd/internal/common/errors"
)

func newTestBook(t *testing.T) (*ContinuousBook, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(1_000_000)
	book, err := NewContinuousBook(
		BookParams{BasePrice: 1, Tick: 1, MaxLevels: 256},
		TagFromString("test"), 7, clk, zap.NewNop())
	require.NoError(t, err)
	return book, clk
}

func limitOrder(id, price uint64, qty uint32, side uint8, submitTime uint64) Order {
	return Order{
		ProductID:  7,
		OrderID:    id,
		Price:      price,
		Quantity:   qty,
		Side:       side,
		PriceType:  PriceTypeLimit,
		SubmitTime: submitTime,
	}
}

// checkBookInvariants verifies the quiescent-point invariants: totals match
// bucket sums, cursors bound all volume, and the locator map is consistent
// with bucket membership.
func checkBookInvariants(t *testing.T, b *ContinuousBook) {
	t.Helper()

	var bidSum, askSum uint64
	var bidCount, askCount uint32
	for level := 0; level < b.maxLevels; level++ {
		for _, o := range b.bids[level].orders {
			bidSum += uint64(o.Quantity)
			bidCount++
			loc, ok := b.orderIndex[o.OrderID]
			require.True(t, ok, "bid %d missing from index", o.OrderID)
			assert.Equal(t, SideBuy, loc.side)
			assert.Equal(t, level, loc.level)
			assert.True(t, level <= b.bestBid, "bid volume above best_bid cursor")
		}
		for _, o := range b.asks[level].orders {
			askSum += uint64(o.Quantity)
			askCount++
			loc, ok := b.orderIndex[o.OrderID]
			require.True(t, ok, "ask %d missing from index", o.OrderID)
			assert.Equal(t, SideSell, loc.side)
			assert.Equal(t, level, loc.level)
			assert.True(t, level >= b.bestAsk, "ask volume below best_ask cursor")
		}
	}
	assert.Equal(t, bidSum, b.totalBidVolume, "bid volume total")
	assert.Equal(t, askSum, b.totalAskVolume, "ask volume total")
	assert.Equal(t, bidCount, b.bidCount)
	assert.Equal(t, askCount, b.askCount)
	assert.Equal(t, int(bidCount)+int(askCount), len(b.orderIndex))
}

func TestBook_EmptyBookLimitBuyRests(t *testing.T) {
	book, _ := newTestBook(t)

	result, err := book.Match(limitOrder(1, 100, 5, SideBuy, 500))
	require.NoError(t, err)
	assert.Empty(t, result.Executions)

	best, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, uint64(100), best)
	assert.Equal(t, uint64(5), book.TotalBidVolume())
	assert.Equal(t, uint32(1), book.BidCount())
	checkBookInvariants(t, book)
}

func TestBook_ExactCross(t *testing.T) {
	book, _ := newTestBook(t)

	_, err := book.Match(limitOrder(10, 100, 5, SideSell, 500))
	require.NoError(t, err)

	result, err := book.Match(limitOrder(11, 100, 5, SideBuy, 600))
	require.NoError(t, err)
	require.Len(t, result.Executions, 1)

	exec := result.Executions[0]
	assert.Equal(t, uint64(11), exec.BuyOrderID)
	assert.Equal(t, uint64(10), exec.SellOrderID)
	assert.Equal(t, uint64(100), exec.Price)
	assert.Equal(t, uint32(5), exec.Quantity)
	assert.False(t, exec.IsMock)

	assert.Equal(t, uint64(0), book.TotalAskVolume())
	_, ok := book.BestAsk()
	assert.False(t, ok)
	checkBookInvariants(t, book)
}

func TestBook_WalkTheBook(t *testing.T) {
	book, _ := newTestBook(t)

	_, err := book.Match(limitOrder(20, 100, 3, SideSell, 100))
	require.NoError(t, err)
	_, err = book.Match(limitOrder(21, 101, 4, SideSell, 200))
	require.NoError(t, err)

	result, err := book.Match(limitOrder(22, 101, 6, SideBuy, 300))
	require.NoError(t, err)
	require.Len(t, result.Executions, 2)

	// Lowest ask level consumed first, maker price on both fills.
	assert.Equal(t, uint64(20), result.Executions[0].SellOrderID)
	assert.Equal(t, uint64(100), result.Executions[0].Price)
	assert.Equal(t, uint32(3), result.Executions[0].Quantity)
	assert.Equal(t, uint64(21), result.Executions[1].SellOrderID)
	assert.Equal(t, uint64(101), result.Executions[1].Price)
	assert.Equal(t, uint32(3), result.Executions[1].Quantity)

	assert.Equal(t, uint64(1), book.TotalAskVolume())
	best, ok := book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, uint64(101), best)
	checkBookInvariants(t, book)
}

func TestBook_TimePriorityWithinLevel(t *testing.T) {
	book, _ := newTestBook(t)

	_, err := book.Match(limitOrder(30, 50, 4, SideBuy, 100))
	require.NoError(t, err)
	_, err = book.Match(limitOrder(31, 50, 4, SideBuy, 200))
	require.NoError(t, err)

	result, err := book.Match(limitOrder(32, 50, 5, SideSell, 300))
	require.NoError(t, err)
	require.Len(t, result.Executions, 2)

	assert.Equal(t, uint64(30), result.Executions[0].BuyOrderID)
	assert.Equal(t, uint32(4), result.Executions[0].Quantity)
	assert.Equal(t, uint64(31), result.Executions[1].BuyOrderID)
	assert.Equal(t, uint32(1), result.Executions[1].Quantity)

	assert.Equal(t, uint64(3), book.TotalBidVolume())
	checkBookInvariants(t, book)
}

func TestBook_CancelThenMiss(t *testing.T) {
	book, _ := newTestBook(t)

	_, err := book.Match(limitOrder(1, 100, 5, SideBuy, 100))
	require.NoError(t, err)

	assert.True(t, book.Cancel(1))
	assert.Equal(t, uint64(0), book.TotalBidVolume())
	assert.Equal(t, uint32(0), book.BidCount())
	_, ok := book.BestBid()
	assert.False(t, ok)
	_, indexed := book.orderIndex[1]
	assert.False(t, indexed)

	assert.False(t, book.Cancel(1))
	checkBookInvariants(t, book)
}

func TestBook_MarketResidualDiscarded(t *testing.T) {
	book, _ := newTestBook(t)

	order := Order{
		ProductID: 7, OrderID: 40, Quantity: 7,
		Side: SideBuy, PriceType: PriceTypeMarket, SubmitTime: 100,
	}
	result, err := book.Match(order)
	require.NoError(t, err)
	assert.Empty(t, result.Executions)

	assert.Equal(t, uint64(0), book.TotalBidVolume())
	assert.Empty(t, book.orderIndex)
	checkBookInvariants(t, book)
}

func TestBook_MarketSweepsThenDiscards(t *testing.T) {
	book, _ := newTestBook(t)

	_, err := book.Match(limitOrder(50, 100, 2, SideSell, 100))
	require.NoError(t, err)
	_, err = book.Match(limitOrder(51, 105, 3, SideSell, 200))
	require.NoError(t, err)

	order := Order{
		ProductID: 7, OrderID: 52, Quantity: 9,
		Side: SideBuy, PriceType: PriceTypeMarket, SubmitTime: 300,
	}
	result, err := book.Match(order)
	require.NoError(t, err)
	require.Len(t, result.Executions, 2)
	assert.Equal(t, uint32(2), result.Executions[0].Quantity)
	assert.Equal(t, uint32(3), result.Executions[1].Quantity)

	// 4 lots of the market taker never rest.
	assert.Equal(t, uint64(0), book.TotalBidVolume())
	assert.Equal(t, uint64(0), book.TotalAskVolume())
	checkBookInvariants(t, book)
}

func TestBook_PartialFillRestsResidual(t *testing.T) {
	book, _ := newTestBook(t)

	_, err := book.Match(limitOrder(60, 100, 3, SideSell, 100))
	require.NoError(t, err)

	result, err := book.Match(limitOrder(61, 100, 10, SideBuy, 200))
	require.NoError(t, err)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, uint32(3), result.Executions[0].Quantity)

	best, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, uint64(100), best)
	assert.Equal(t, uint64(7), book.TotalBidVolume())
	checkBookInvariants(t, book)
}

func TestBook_MockLeavesBookUntouched(t *testing.T) {
	book, clk := newTestBook(t)

	_, err := book.Match(limitOrder(70, 100, 3, SideSell, 100))
	require.NoError(t, err)
	_, err = book.Match(limitOrder(71, 101, 4, SideSell, 150))
	require.NoError(t, err)

	beforeBidVol := book.totalBidVolume
	beforeAskVol := book.totalAskVolume
	beforeBestAsk := book.bestAsk
	beforeBestBid := book.bestBid
	beforeIndex := len(book.orderIndex)
	beforeHeadQty := book.asks[99].orders[0].Quantity

	clk.Advance(1000)
	mock := limitOrder(72, 101, 6, SideMockBuy, 200)
	result, err := book.Match(mock)
	require.NoError(t, err)
	require.Len(t, result.Executions, 2)
	for _, exec := range result.Executions {
		assert.True(t, exec.IsMock)
	}
	assert.Equal(t, uint32(3), result.Executions[0].Quantity)
	assert.Equal(t, uint64(100), result.Executions[0].Price)
	assert.Equal(t, uint32(3), result.Executions[1].Quantity)
	assert.Equal(t, uint64(101), result.Executions[1].Price)

	// Bit-identical book: totals, cursors, index, and maker quantities.
	assert.Equal(t, beforeBidVol, book.totalBidVolume)
	assert.Equal(t, beforeAskVol, book.totalAskVolume)
	assert.Equal(t, beforeBestAsk, book.bestAsk)
	assert.Equal(t, beforeBestBid, book.bestBid)
	assert.Equal(t, beforeIndex, len(book.orderIndex))
	assert.Equal(t, beforeHeadQty, book.asks[99].orders[0].Quantity)
	checkBookInvariants(t, book)
}

func TestBook_MockResidualNeverRests(t *testing.T) {
	book, _ := newTestBook(t)

	result, err := book.Match(limitOrder(80, 100, 5, SideMockBuy, 100))
	require.NoError(t, err)
	assert.Empty(t, result.Executions)
	assert.Empty(t, book.orderIndex)
	assert.Equal(t, uint64(0), book.TotalBidVolume())
}

func TestBook_DuplicateOrderRejected(t *testing.T) {
	book, _ := newTestBook(t)

	_, err := book.Match(limitOrder(90, 100, 5, SideBuy, 100))
	require.NoError(t, err)

	_, err = book.Match(limitOrder(90, 99, 5, SideBuy, 200))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateOrder)

	// The resting original is untouched.
	assert.Equal(t, uint64(5), book.TotalBidVolume())
	best, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, uint64(100), best)
	checkBookInvariants(t, book)
}

func TestBook_OutOfRangeRejected(t *testing.T) {
	book, _ := newTestBook(t)

	_, err := book.Match(limitOrder(100, 0, 5, SideBuy, 100))
	require.Error(t, err)
	assert.Equal(t, errors.CodePriceOutOfRange, errors.CodeOf(err))

	_, err = book.Match(limitOrder(101, 1+256, 5, SideBuy, 100))
	require.Error(t, err)
	assert.Equal(t, errors.CodePriceOutOfRange, errors.CodeOf(err))

	assert.Empty(t, book.orderIndex)
}

func TestBook_InvalidSideRejected(t *testing.T) {
	book, _ := newTestBook(t)

	order := limitOrder(110, 100, 5, 9, 100)
	_, err := book.Match(order)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidSide)
}

func TestBook_ExpiredMakerSweptAtMatch(t *testing.T) {
	book, clk := newTestBook(t)

	expiring := limitOrder(120, 100, 5, SideSell, 100)
	expiring.ExpireTime = clk.Now() + 500
	_, err := book.Match(expiring)
	require.NoError(t, err)
	_, err = book.Match(limitOrder(121, 101, 4, SideSell, 150))
	require.NoError(t, err)

	clk.Advance(1_000)

	result, err := book.Match(limitOrder(122, 101, 4, SideBuy, 200))
	require.NoError(t, err)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, uint64(121), result.Executions[0].SellOrderID)
	assert.Equal(t, uint64(101), result.Executions[0].Price)

	// The expired maker is gone, not filled.
	_, indexed := book.orderIndex[120]
	assert.False(t, indexed)
	checkBookInvariants(t, book)
}

func TestBook_SweepExpired(t *testing.T) {
	book, clk := newTestBook(t)

	expiring := limitOrder(130, 100, 5, SideBuy, 100)
	expiring.ExpireTime = clk.Now() + 500
	_, err := book.Match(expiring)
	require.NoError(t, err)
	_, err = book.Match(limitOrder(131, 99, 2, SideBuy, 150))
	require.NoError(t, err)

	clk.Advance(1_000)
	assert.Equal(t, 1, book.SweepExpired(clk.Now()))
	assert.Equal(t, uint64(2), book.TotalBidVolume())
	assert.Equal(t, uint32(1), book.BidCount())
	checkBookInvariants(t, book)
}

func TestBook_LatencyStamps(t *testing.T) {
	book, clk := newTestBook(t)

	_, err := book.Match(limitOrder(140, 100, 5, SideSell, clk.Now()))
	require.NoError(t, err)

	submit := clk.Now()
	clk.Advance(2_500)
	taker := limitOrder(141, 100, 5, SideBuy, submit)
	result, err := book.Match(taker)
	require.NoError(t, err)
	require.Len(t, result.Executions, 1)

	assert.Equal(t, uint32(2_500), result.Executions[0].TradeTimeNetwork)
	assert.GreaterOrEqual(t, result.EndTime, result.StartTime)
}

func TestBook_TickValidation(t *testing.T) {
	_, err := NewContinuousBook(BookParams{BasePrice: 1, Tick: 0, MaxLevels: 10},
		TagFromString("test"), 7, clock.NewManual(0), zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidTick)
}

func TestSeedBook(t *testing.T) {
	book, _ := newTestBook(t)

	added := SeedBook(book, 20)
	assert.Equal(t, 40, added)
	assert.Equal(t, uint32(20), book.BidCount())
	assert.Equal(t, uint32(20), book.AskCount())

	// Seeded sides never cross.
	bestBid, ok := book.BestBid()
	require.True(t, ok)
	bestAsk, ok := book.BestAsk()
	require.True(t, ok)
	assert.Less(t, bestBid, bestAsk)
	checkBookInvariants(t, book)
}
