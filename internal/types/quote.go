package types

// Quote is a two-sided price. A long position exits at the bid, a short at the ask.
type Quote struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

func (q Quote) IsEmpty() bool {
	return q.Bid <= 0 && q.Ask <= 0
}

// ExitPrice returns the price a position in direction dir would close at.
func (q Quote) ExitPrice(dir Direction) float64 {
	if dir == DirectionSell {
		if q.Ask > 0 {
			return q.Ask
		}
		return q.Bid
	}
	if q.Bid > 0 {
		return q.Bid
	}
	return q.Ask
}

// EntryPrice returns the price a new position in direction dir would fill at.
func (q Quote) EntryPrice(dir Direction) float64 {
	if dir == DirectionSell {
		return q.ExitPrice(DirectionBuy)
	}
	return q.ExitPrice(DirectionSell)
}

func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.ExitPrice(DirectionBuy)
}
