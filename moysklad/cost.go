package moysklad

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
)

type byOperationResponse struct {
	Rows []struct {
		Positions []struct {
			Quantity   json.Number `json:"quantity"`
			Cost       json.Number `json:"cost"`
			Assortment *EntityRef  `json:"assortment"`
		} `json:"positions"`
	} `json:"rows"`
}

// OperationCosts looks up the stock-movement cost report for one demand and
// returns total cost in minor units keyed by assortment id (unit cost ×
// quantity per position). Callers treat a failed lookup as zero cost.
func (c *Client) OperationCosts(ctx context.Context, demandID string) (map[string]int64, error) {
	params := url.Values{}
	params.Set("operation.id", demandID)
	params.Set("limit", "1000")

	body, err := c.Get(ctx, "/report/stock/byoperation", params)
	if err != nil {
		return nil, err
	}

	var parsed byOperationResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode cost report for operation %s: %w", demandID, err)
	}

	costs := make(map[string]int64)
	if len(parsed.Rows) == 0 {
		return costs, nil
	}
	for _, pos := range parsed.Rows[0].Positions {
		key := ""
		if pos.Assortment != nil {
			key = IDFromHref(pos.Assortment.Meta.Href)
		}
		unitCost := DecimalFromNumber(pos.Cost)
		qty := DecimalFromNumber(pos.Quantity)
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		}
		costs[key] += unitCost.Mul(qty).Round(0).IntPart()
	}
	return costs, nil
}
