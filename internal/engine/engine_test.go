package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradecore/matchd/internal/clock"
	"github.com/tradecore/matchd/internal/common/errors"
)

func newTestCore(t *testing.T, startInAuction bool) (*Core, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(1_000_000)
	core, err := NewCore(Params{
		InstanceTag:           TagFromString("test"),
		ProductID:             7,
		Book:                  BookParams{BasePrice: 1, Tick: 1, MaxLevels: 256},
		DrainAuctionResiduals: true,
		StartInAuction:        startInAuction,
	}, clk, zap.NewNop())
	require.NoError(t, err)
	return core, clk
}

func TestCore_ContinuousDispatch(t *testing.T) {
	core, _ := newTestCore(t, false)
	require.Equal(t, ModeContinuous, core.Mode())

	_, err := core.OnSubmit(limitOrder(1, 100, 5, SideSell, 100))
	require.NoError(t, err)

	result, err := core.OnSubmit(limitOrder(2, 100, 5, SideBuy, 200))
	require.NoError(t, err)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, uint64(2), result.Executions[0].BuyOrderID)
}

func TestCore_ProductMismatchRejected(t *testing.T) {
	core, _ := newTestCore(t, false)

	wrong := limitOrder(1, 100, 5, SideBuy, 100)
	wrong.ProductID = 8
	_, err := core.OnSubmit(wrong)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrProductMismatch)
	assert.Equal(t, uint64(1), core.RejectedOrders())
}

func TestCore_AuctionModePools(t *testing.T) {
	core, _ := newTestCore(t, true)
	require.Equal(t, ModeAuction, core.Mode())

	result, err := core.OnSubmit(limitOrder(1, 100, 10, SideBuy, 100))
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 1, core.Pool().BidCount())

	// Cancels route to the pool while in auction mode.
	assert.True(t, core.OnCancel(CancelRequest{ProductID: 7, OrderID: 1}))
	assert.Equal(t, 0, core.Pool().BidCount())
}

func TestCore_EndAuctionDrainsResiduals(t *testing.T) {
	core, _ := newTestCore(t, true)

	_, err := core.OnSubmit(limitOrder(1, 100, 10, SideBuy, 100))
	require.NoError(t, err)
	_, err = core.OnSubmit(limitOrder(2, 99, 5, SideBuy, 200))
	require.NoError(t, err)
	_, err = core.OnSubmit(limitOrder(3, 98, 8, SideSell, 300))
	require.NoError(t, err)
	_, err = core.OnSubmit(limitOrder(4, 101, 4, SideSell, 400))
	require.NoError(t, err)

	result := core.EndAuction()
	require.Len(t, result.Executions, 1)
	assert.Equal(t, uint32(8), result.Executions[0].Quantity)
	assert.Equal(t, ModeContinuous, core.Mode())

	// Residuals now rest in the continuous book: bid 1 with 2 lots, bid 2
	// with 5, ask 4 with 4.
	assert.Equal(t, uint64(7), core.Book().TotalBidVolume())
	assert.Equal(t, uint64(4), core.Book().TotalAskVolume())
	assert.Equal(t, 0, core.Pool().BidCount())
	assert.Equal(t, 0, core.Pool().AskCount())

	// Continuous flow takes over.
	match, err := core.OnSubmit(limitOrder(5, 101, 4, SideBuy, 500))
	require.NoError(t, err)
	require.Len(t, match.Executions, 1)
	assert.Equal(t, uint64(4), match.Executions[0].SellOrderID)
}

func TestCore_EndAuctionSweepsExpiredPoolOrders(t *testing.T) {
	core, clk := newTestCore(t, true)

	expiring := limitOrder(1, 100, 10, SideBuy, 100)
	expiring.ExpireTime = clk.Now() + 500
	_, err := core.OnSubmit(expiring)
	require.NoError(t, err)
	_, err = core.OnSubmit(limitOrder(2, 100, 10, SideSell, 200))
	require.NoError(t, err)

	clk.Advance(1_000)
	result := core.EndAuction()
	assert.Empty(t, result.Executions)
	// The expired bid never traded and never reached the book.
	assert.Equal(t, uint64(0), core.Book().TotalBidVolume())
	assert.Equal(t, uint64(10), core.Book().TotalAskVolume())
}

func TestCore_StatsSnapshot(t *testing.T) {
	core, _ := newTestCore(t, false)

	core.RecordReceived()
	core.RecordReceived()
	_, err := core.OnSubmit(limitOrder(1, 100, 5, SideSell, 100))
	require.NoError(t, err)
	result, err := core.OnSubmit(limitOrder(2, 100, 5, SideBuy, 200))
	require.NoError(t, err)
	core.IncrementMatched(len(result.Executions))

	stats := core.SnapshotStats()
	assert.Equal(t, TagFromString("test"), stats.InstanceTag)
	assert.Equal(t, uint16(7), stats.ProductID)
	assert.Equal(t, uint32(2), stats.TotalReceivedOrders)
	assert.Equal(t, uint32(1), stats.MatchedOrders)
	assert.Equal(t, uint32(0), stats.BidsSize)
	assert.Equal(t, uint32(0), stats.AsksSize)
	assert.Equal(t, uint64(1_000_000), stats.StartTime)
}

func TestCore_CancelMissIsSilent(t *testing.T) {
	core, _ := newTestCore(t, false)
	assert.False(t, core.OnCancel(CancelRequest{ProductID: 7, OrderID: 99}))
	assert.False(t, core.OnCancel(CancelRequest{ProductID: 9, OrderID: 99}))
}

func TestCore_MatchedCounterIgnoresMock(t *testing.T) {
	core, _ := newTestCore(t, false)

	_, err := core.OnSubmit(limitOrder(1, 100, 5, SideSell, 100))
	require.NoError(t, err)

	result, err := core.OnSubmit(limitOrder(2, 100, 5, SideMockBuy, 200))
	require.NoError(t, err)
	require.Len(t, result.Executions, 1)
	assert.True(t, result.Executions[0].IsMock)

	// The pipeline only counts non-mock executions.
	nonMock := 0
	for _, exec := range result.Executions {
		if !exec.IsMock {
			nonMock++
		}
	}
	core.IncrementMatched(nonMock)
	assert.Equal(t, uint32(0), core.SnapshotStats().MatchedOrders)
}
