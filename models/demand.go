package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Demand is one upstream shipment document. The ID is the upstream identifier
// and is immutable once observed; re-applying the same document is safe.
// All monetary columns are integer minor units (kopecks).
type Demand struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	Name             string     `gorm:"size:255" json:"name"`
	Moment           *time.Time `json:"moment"`
	Sum              int64      `json:"sum"`
	VatSum           int64      `json:"vat_sum"`
	PayedSum         int64      `json:"payed_sum"`
	ShippedSum       int64      `json:"shipped_sum"`
	CostSum          int64      `json:"cost_sum"`
	OverheadSum      int64      `json:"overhead_sum"`
	ProfitSum        int64      `json:"profit_sum"`
	AgentName        string     `gorm:"size:255" json:"agent_name"`
	StoreName        string     `gorm:"size:255" json:"store_name"`
	ProjectName      string     `gorm:"size:255" json:"project_name"`
	SalesChannelName string     `gorm:"size:255" json:"sales_channel_name"`
	StateName        string     `gorm:"size:100" json:"state_name"`
	Description      string     `gorm:"type:text" json:"description"`
	AttributesJSON   []byte     `gorm:"type:json" json:"attributes"`

	Positions []DemandPosition `gorm:"foreignKey:DemandId;references:ID" json:"positions"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DemandPosition is one line item. The position id is only unique within its
// parent, so the primary key is (demand_id, id).
type DemandPosition struct {
	DemandId       string          `gorm:"primaryKey;size:36" json:"demand_id"`
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	AssortmentId   string          `gorm:"size:36" json:"assortment_id"`
	AssortmentName string          `gorm:"size:255" json:"assortment_name"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,6)" json:"quantity"`
	Price          int64           `json:"price"`
	Amount         int64           `json:"amount"`
	Cost           int64           `json:"cost"`
	Overhead       int64           `json:"overhead"`
	Profit         int64           `json:"profit"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
