package demandsync

import (
	"sort"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/shipments_backend/moysklad"
)

// LineItem is one demand position in computed form. Monetary fields are
// integer minor units; quantity keeps its fractional precision.
type LineItem struct {
	ID             string
	AssortmentID   string
	AssortmentName string
	Quantity       decimal.Decimal
	Price          int64
	Amount         int64
	Cost           int64
	Overhead       int64
	Profit         int64
}

// BuildLineItems maps the wire positions of a demand onto line items with
// the amount (price × quantity, rounded to minor units) precomputed.
func BuildLineItems(d moysklad.Demand) []LineItem {
	rows := d.Positions.Rows
	if len(rows) == 0 {
		return nil
	}
	items := make([]LineItem, 0, len(rows))
	for _, pos := range rows {
		item := LineItem{
			ID:       pos.ID,
			Quantity: moysklad.DecimalFromNumber(pos.Quantity),
			Price:    moysklad.MinorFromNumber(pos.Price),
		}
		if pos.Assortment != nil {
			item.AssortmentID = moysklad.IDFromHref(pos.Assortment.Meta.Href)
			item.AssortmentName = pos.Assortment.Name
		}
		item.Amount = decimal.NewFromInt(item.Price).Mul(item.Quantity).Round(0).IntPart()
		items = append(items, item)
	}
	return items
}

// AllocateCosts attaches the reported cost to each item and distributes the
// document-level overhead across items in proportion to their amount. The
// allocated shares always sum to exactly the overhead: shares are floored
// and the remainder is handed out by largest fractional part. Profit is
// amount minus cost minus overhead, per item.
func AllocateCosts(items []LineItem, overhead int64, costs map[string]int64) {
	if len(items) == 0 {
		return
	}

	var totalAmount int64
	for i := range items {
		items[i].Cost = costs[items[i].AssortmentID]
		totalAmount += items[i].Amount
	}

	if overhead != 0 && totalAmount > 0 {
		type slice struct {
			index int
			rem   int64
		}
		shares := make([]int64, len(items))
		remainders := make([]slice, 0, len(items))
		var allocated int64
		for i := range items {
			// floor(overhead * amount / total), remainder tracked for
			// the second pass
			num := overhead * items[i].Amount
			shares[i] = num / totalAmount
			allocated += shares[i]
			remainders = append(remainders, slice{index: i, rem: num % totalAmount})
		}
		sort.Slice(remainders, func(a, b int) bool {
			if remainders[a].rem != remainders[b].rem {
				return remainders[a].rem > remainders[b].rem
			}
			return remainders[a].index < remainders[b].index
		})
		for i := 0; allocated < overhead && i < len(remainders); i++ {
			shares[remainders[i].index]++
			allocated++
		}
		for i := range items {
			items[i].Overhead = shares[i]
		}
	}

	for i := range items {
		items[i].Profit = items[i].Amount - items[i].Cost - items[i].Overhead
	}
}
