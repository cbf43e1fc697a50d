package demandsync

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/shipments_backend/models"
	"bitbucket.org/mmdatafocus/shipments_backend/utils"
)

// DemandView is the read-side shape of a stored demand. Monetary fields are
// presented in major units; storage stays in integer minor units.
type DemandView struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Moment           *time.Time         `json:"moment"`
	Sum              decimal.Decimal    `json:"sum"`
	VatSum           decimal.Decimal    `json:"vatSum"`
	PayedSum         decimal.Decimal    `json:"payedSum"`
	ShippedSum       decimal.Decimal    `json:"shippedSum"`
	CostSum          decimal.Decimal    `json:"costSum"`
	OverheadSum      decimal.Decimal    `json:"overheadSum"`
	ProfitSum        decimal.Decimal    `json:"profitSum"`
	AgentName        string             `json:"agentName"`
	StoreName        string             `json:"storeName"`
	ProjectName      string             `json:"projectName"`
	SalesChannelName string             `json:"salesChannelName"`
	StateName        string             `json:"stateName"`
	Positions        []DemandLineView   `json:"positions,omitempty"`
}

type DemandLineView struct {
	ID             string          `json:"id"`
	AssortmentId   string          `json:"assortmentId"`
	AssortmentName string          `json:"assortmentName"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Amount         decimal.Decimal `json:"amount"`
	Cost           decimal.Decimal `json:"cost"`
	Overhead       decimal.Decimal `json:"overhead"`
	Profit         decimal.Decimal `json:"profit"`
}

func mapDemandToView(d models.Demand) DemandView {
	view := DemandView{
		ID:               d.ID,
		Name:             d.Name,
		Moment:           d.Moment,
		Sum:              utils.MinorUnitsToDecimal(d.Sum),
		VatSum:           utils.MinorUnitsToDecimal(d.VatSum),
		PayedSum:         utils.MinorUnitsToDecimal(d.PayedSum),
		ShippedSum:       utils.MinorUnitsToDecimal(d.ShippedSum),
		CostSum:          utils.MinorUnitsToDecimal(d.CostSum),
		OverheadSum:      utils.MinorUnitsToDecimal(d.OverheadSum),
		ProfitSum:        utils.MinorUnitsToDecimal(d.ProfitSum),
		AgentName:        d.AgentName,
		StoreName:        d.StoreName,
		ProjectName:      d.ProjectName,
		SalesChannelName: d.SalesChannelName,
		StateName:        d.StateName,
	}
	for _, pos := range d.Positions {
		view.Positions = append(view.Positions, DemandLineView{
			ID:             pos.ID,
			AssortmentId:   pos.AssortmentId,
			AssortmentName: pos.AssortmentName,
			Quantity:       pos.Quantity,
			Price:          utils.MinorUnitsToDecimal(pos.Price),
			Amount:         utils.MinorUnitsToDecimal(pos.Amount),
			Cost:           utils.MinorUnitsToDecimal(pos.Cost),
			Overhead:       utils.MinorUnitsToDecimal(pos.Overhead),
			Profit:         utils.MinorUnitsToDecimal(pos.Profit),
		})
	}
	return view
}

func getDemandById(db *gorm.DB, id string) (*models.Demand, error) {
	var demand models.Demand
	err := db.Preload("Positions").Where("id = ?", id).Take(&demand).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &demand, nil
}

// ListDemandsHandler serves the stored demands for an optional moment range,
// newest first. The db is resolved per request; it connects after the server
// starts listening.
func ListDemandsHandler(getDB func() *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}

		query := getDB().WithContext(c.Request.Context()).Model(&models.Demand{})
		if v := strings.TrimSpace(c.Query("startDate")); v != "" {
			start, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "startDate must be YYYY-MM-DD"})
				return
			}
			query = query.Where("moment >= ?", start)
		}
		if v := strings.TrimSpace(c.Query("endDate")); v != "" {
			end, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "endDate must be YYYY-MM-DD"})
				return
			}
			query = query.Where("moment < ?", end.AddDate(0, 0, 1))
		}

		var demands []models.Demand
		if err := query.Order("moment desc").Limit(limit).Find(&demands).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]DemandView, 0, len(demands))
		for _, d := range demands {
			items = append(items, mapDemandToView(d))
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

// DemandDetailHandler serves one stored demand with its line items.
func DemandDetailHandler(getDB func() *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		demand, err := getDemandById(getDB().WithContext(c.Request.Context()), c.Param("id"))
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "demand not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, mapDemandToView(*demand))
	}
}
