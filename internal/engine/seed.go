package engine

// SeedBook pre-populates a book with n resting orders per side for load
// testing: unit-size bids ascending from the ladder base and asks stacked
// above them, each good for ten thousand seconds. Returns how many orders
// actually fit the ladder.
func SeedBook(book *ContinuousBook, n uint32) int {
	now := book.clk.Now()
	const seedTTL = uint64(10_000) * 1_000_000_000

	added := 0
	for i := uint32(0); i < n; i++ {
		bid := &Order{
			ProductID:  book.productID,
			OrderID:    uint64(i + 1),
			Price:      book.basePrice + uint64(i)*book.tick,
			Quantity:   1,
			Side:       SideBuy,
			PriceType:  PriceTypeLimit,
			SubmitTime: now,
			ExpireTime: now + seedTTL,
		}
		if book.AddResting(bid) == nil {
			added++
		}
	}
	for i := uint32(0); i < n; i++ {
		ask := &Order{
			ProductID:  book.productID,
			OrderID:    uint64(n + i + 1),
			Price:      book.basePrice + uint64(n+i)*book.tick,
			Quantity:   1,
			Side:       SideSell,
			PriceType:  PriceTypeLimit,
			SubmitTime: now,
			ExpireTime: now + seedTTL,
		}
		if book.AddResting(ask) == nil {
			added++
		}
	}
	return added
}
