package moysklad

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Meta is the locator block MoySklad embeds in every entity reference.
type Meta struct {
	Href string `json:"href"`
	Type string `json:"type"`
	Size int    `json:"size,omitempty"`
}

// EntityRef is an unresolved pointer to a related entity. Name is populated
// when the upstream expanded the reference, or later by the resolver.
type EntityRef struct {
	Meta Meta   `json:"meta"`
	Name string `json:"name,omitempty"`
}

// Attribute is one named custom field on a demand. Value is kept raw because
// it can be a string, a number, a bool or an entity reference.
type Attribute struct {
	Name  string          `json:"name"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type Position struct {
	ID         string      `json:"id"`
	Quantity   json.Number `json:"quantity"`
	Price      json.Number `json:"price"`
	Assortment *EntityRef  `json:"assortment"`
}

type Overhead struct {
	Sum json.Number `json:"sum"`
}

// Demand is one upstream shipment document as transmitted. All sums are
// integer minor units.
type Demand struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Moment       string      `json:"moment"`
	Sum          json.Number `json:"sum"`
	VatSum       json.Number `json:"vatSum"`
	PayedSum     json.Number `json:"payedSum"`
	ShippedSum   json.Number `json:"shippedSum"`
	Overhead     *Overhead   `json:"overhead"`
	Agent        *EntityRef  `json:"agent"`
	Store        *EntityRef  `json:"store"`
	Project      *EntityRef  `json:"project"`
	SalesChannel *EntityRef  `json:"salesChannel"`
	State        *EntityRef  `json:"state"`
	Description  string      `json:"description"`
	Attributes   []Attribute `json:"attributes"`
	Positions    struct {
		Rows []Position `json:"rows"`
	} `json:"positions"`
}

type listResponse struct {
	Meta Meta              `json:"meta"`
	Rows []json.RawMessage `json:"rows"`
}

// IDFromHref returns the trailing path segment of an entity href, which is
// the upstream identifier.
func IDFromHref(href string) string {
	href = strings.TrimRight(strings.TrimSpace(href), "/")
	if href == "" {
		return ""
	}
	if i := strings.LastIndex(href, "/"); i >= 0 {
		return href[i+1:]
	}
	return href
}

// MinorFromNumber parses a wire number into integer minor units, rounding
// half away from zero. Empty or malformed values are zero.
func MinorFromNumber(num json.Number) int64 {
	s := num.String()
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.Round(0).IntPart()
}

// DecimalFromNumber parses a wire number into a decimal, defaulting to zero.
func DecimalFromNumber(num json.Number) decimal.Decimal {
	s := num.String()
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// momentLayouts cover the formats MoySklad uses for document timestamps.
var momentLayouts = []string{
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ParseMoment parses a document timestamp; nil when absent or malformed.
func ParseMoment(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range momentLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
