package demandsync

import (
	"context"
	"encoding/json"
	"errors"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/mmdatafocus/shipments_backend/config"
	"bitbucket.org/mmdatafocus/shipments_backend/models"
	"bitbucket.org/mmdatafocus/shipments_backend/moysklad"
	"bitbucket.org/mmdatafocus/shipments_backend/utils"
)

// DemandRow is one document ready for storage, header plus line items.
type DemandRow struct {
	Demand    models.Demand
	Positions []models.DemandPosition
}

// UpsertCounts summarizes one batch write.
type UpsertCounts struct {
	Demands   int
	Positions int
	Skipped   int
}

// Reconciler applies computed demands to storage. Each document is written
// in its own transaction so one bad record never poisons the batch, and
// re-applying the same document is a no-op at the data level: the header is
// upserted by id and the line items are replaced wholesale.
type Reconciler struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewReconciler(db *gorm.DB, logger *logrus.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

func (r *Reconciler) UpsertBatch(ctx context.Context, rows []DemandRow) UpsertCounts {
	jobId, _ := utils.GetJobIdFromContext(ctx)
	var counts UpsertCounts
	for i := range rows {
		if err := r.upsertOne(ctx, &rows[i]); err != nil {
			counts.Skipped++
			reason := "upsert demand"
			if isDuplicateEntry(err) {
				// Duplicate position ids inside one upstream payload; the
				// whole document is skipped, a retry cannot fix the data.
				reason = "duplicate position in payload"
			}
			config.LogError(r.logger, "demandsync", "UpsertBatch", reason,
				map[string]interface{}{"demandId": rows[i].Demand.ID, "jobId": jobId}, err)
			continue
		}
		counts.Demands++
		counts.Positions += len(rows[i].Positions)
	}
	return counts
}

const mysqlErrDuplicateEntry = 1062

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry
}

func (r *Reconciler) upsertOne(ctx context.Context, row *DemandRow) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		demand := row.Demand
		demand.Positions = nil
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&demand).Error; err != nil {
			return err
		}

		// Replace line items wholesale. Positions deleted upstream must
		// not survive locally, so a delete-and-reinsert beats a merge.
		if err := tx.Where("demand_id = ?", row.Demand.ID).
			Delete(&models.DemandPosition{}).Error; err != nil {
			return err
		}
		if len(row.Positions) > 0 {
			if err := tx.Create(&row.Positions).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// BuildRow converts an enriched demand plus its computed line items into a
// storage row. Header cost, overhead and profit are the sums over the items.
func BuildRow(e EnrichedDemand, items []LineItem) DemandRow {
	var costSum, overheadSum, profitSum int64
	positions := make([]models.DemandPosition, 0, len(items))
	for _, item := range items {
		costSum += item.Cost
		overheadSum += item.Overhead
		profitSum += item.Profit
		positions = append(positions, models.DemandPosition{
			DemandId:       e.ID,
			ID:             item.ID,
			AssortmentId:   item.AssortmentID,
			AssortmentName: item.AssortmentName,
			Quantity:       item.Quantity,
			Price:          item.Price,
			Amount:         item.Amount,
			Cost:           item.Cost,
			Overhead:       item.Overhead,
			Profit:         item.Profit,
		})
	}

	var attributesJSON []byte
	if len(e.Attributes) > 0 {
		attributesJSON, _ = json.Marshal(e.Attributes)
	}

	return DemandRow{
		Demand: models.Demand{
			ID:               e.ID,
			Name:             e.Name,
			Moment:           moysklad.ParseMoment(e.Moment),
			Sum:              moysklad.MinorFromNumber(e.Sum),
			VatSum:           moysklad.MinorFromNumber(e.VatSum),
			PayedSum:         moysklad.MinorFromNumber(e.PayedSum),
			ShippedSum:       moysklad.MinorFromNumber(e.ShippedSum),
			CostSum:          costSum,
			OverheadSum:      overheadSum,
			ProfitSum:        profitSum,
			AgentName:        e.AgentName,
			StoreName:        e.StoreName,
			ProjectName:      e.ProjectName,
			SalesChannelName: e.SalesChannelName,
			StateName:        e.StateName,
			Description:      e.Description,
			AttributesJSON:   attributesJSON,
		},
		Positions: positions,
	}
}
