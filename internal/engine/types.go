package engine

// Order sides as they appear on the wire. Mock sides run the matching path
// and emit executions but never mutate the book.
const (
	SideBuy      uint8 = 1
	SideSell     uint8 = 2
	SideMockBuy  uint8 = 3
	SideMockSell uint8 = 4
)

// Price types as they appear on the wire.
const (
	PriceTypeLimit  uint8 = 1
	PriceTypeMarket uint8 = 2
)

// InstanceTag identifies one engine instance in broadcast frames.
type InstanceTag [16]byte

// TagFromString builds an InstanceTag from at most 16 bytes of s, zero padded.
func TagFromString(s string) InstanceTag {
	var tag InstanceTag
	copy(tag[:], s)
	return tag
}

// Order is the resting/aggressor unit.
type Order struct {
	ProductID  uint16
	OrderID    uint64
	Price      uint64 // minimum price units; unused for market orders
	Quantity   uint32 // remaining size
	Side       uint8
	PriceType  uint8
	SubmitTime uint64 // ns
	ExpireTime uint64 // ns; 0 = good till cancelled
}

// IsMock reports whether the order is a what-if simulation.
func (o *Order) IsMock() bool {
	return o.Side == SideMockBuy || o.Side == SideMockSell
}

// IsBuySide reports whether the order takes liquidity from the ask side.
func (o *Order) IsBuySide() bool {
	return o.Side == SideBuy || o.Side == SideMockBuy
}

// IsSellSide reports whether the order takes liquidity from the bid side.
func (o *Order) IsSellSide() bool {
	return o.Side == SideSell || o.Side == SideMockSell
}

// Expired reports whether the order has an expiry in the past relative to now.
func (o *Order) Expired(now uint64) bool {
	return o.ExpireTime != 0 && o.ExpireTime <= now
}

// CancelRequest asks for removal of one resting order.
type CancelRequest struct {
	ProductID uint16
	OrderID   uint64
}

// OrderExecution is the output of a single maker-taker fill. Price is always
// the maker price.
type OrderExecution struct {
	InstanceTag      InstanceTag
	ProductID        uint16
	BuyOrderID       uint64
	SellOrderID      uint64
	Price            uint64
	Quantity         uint32
	TradeTimeNetwork uint32 // ns from taker submit to match completion
	InternalMatch    uint32 // ns spent inside the matching step
	IsMock           bool
}

// MatchResult is the ordered batch of executions produced by one match call.
type MatchResult struct {
	Executions []OrderExecution
	StartTime  uint64 // engine-local ns
	EndTime    uint64
}

// Empty reports whether the match produced no executions.
func (r *MatchResult) Empty() bool {
	return len(r.Executions) == 0
}

// TimePerTrade spreads the match duration evenly over the executions, the
// shared latency value carried by batched trade frames.
func (r *MatchResult) TimePerTrade() uint32 {
	n := len(r.Executions)
	if n == 0 {
		return 0
	}
	d := r.EndTime - r.StartTime
	if r.EndTime < r.StartTime {
		d = 0
	}
	per := d / uint64(n)
	if per > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(per)
}

// Stats is the immutable snapshot broadcast on the stats interval.
type Stats struct {
	InstanceTag         InstanceTag
	ProductID           uint16
	BidsSize            uint32
	AsksSize            uint32
	MatchedOrders       uint32
	TotalReceivedOrders uint32
	StartTime           uint64
}
