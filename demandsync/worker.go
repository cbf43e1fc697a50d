package demandsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/shipments_backend/config"
	"bitbucket.org/mmdatafocus/shipments_backend/moysklad"
	"bitbucket.org/mmdatafocus/shipments_backend/utils"
)

const syncLockKey = "demand-sync-lock"

type batchUpserter interface {
	UpsertBatch(ctx context.Context, rows []DemandRow) UpsertCounts
}

// Syncer drives one ingestion run end to end: page through the demand
// stream, resolve references, compute costs and overhead, and reconcile
// with storage. Pages are processed by a small worker pool; the fetch loop
// itself is sequential because the upstream paginates by offset.
type Syncer struct {
	store    JobStore
	logger   *logrus.Logger
	client   *moysklad.Client
	upserter batchUpserter
	workers  int
}

func NewSyncer(store JobStore, logger *logrus.Logger) *Syncer {
	return &Syncer{store: store, logger: logger}
}

func (s *Syncer) init() error {
	if s.client == nil {
		client, err := moysklad.NewClient(os.Getenv("MOYSKLAD_TOKEN"))
		if err != nil {
			return err
		}
		s.client = client
	}
	if s.upserter == nil {
		db := config.GetDB()
		if db == nil {
			return errors.New("database is not connected")
		}
		s.upserter = NewReconciler(db, s.logger)
	}
	if s.workers <= 0 {
		s.workers = utils.IntFromEnv("DEMAND_SYNC_WORKERS", 4)
		if s.workers < 1 {
			s.workers = 1
		}
		if s.workers > 10 {
			s.workers = 10
		}
	}
	return nil
}

// Run executes one sync job. It is safe to call from a goroutine; all
// failures end up on the job record instead of an error return.
func (s *Syncer) Run(ctx context.Context, jobID string, startDate, endDate time.Time) {
	if err := s.init(); err != nil {
		s.fail(jobID, err)
		return
	}
	ctx = utils.SetJobIdInContext(ctx, jobID)

	// Overlapping runs write the same rows in a different order, so only
	// one runs at a time. Waiting briefly covers back-to-back triggers.
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, syncLockKey, 30*time.Minute, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(2*time.Second), 5),
		})
		if err != nil {
			s.fail(jobID, fmt.Errorf("another sync run is in progress: %w", err))
			return
		}
		defer lock.Release(context.WithoutCancel(ctx))
	}

	s.store.SetStatus(jobID, JobStatusFetching, "")
	s.logger.WithFields(logrus.Fields{
		"jobId": jobID,
		"start": startDate.Format("2006-01-02"),
		"end":   endDate.Format("2006-01-02"),
	}).Info("demand sync started")

	resolver := NewResolver(s.client, s.logger)
	pager := moysklad.NewDemandPager(s.client, startDate, endDate)

	var (
		mu        sync.Mutex
		processed int
		upserted  int
		skipped   int
		wg        sync.WaitGroup
	)
	sem := make(chan struct{}, s.workers)
	firstPage := true

	for {
		page, err := pager.Next(ctx)
		if err != nil {
			wg.Wait()
			s.fail(jobID, err)
			return
		}
		if page == nil {
			break
		}
		if firstPage {
			firstPage = false
			s.store.SetStatus(jobID, JobStatusProcessing, "")
		}
		// Snapshot the reported total here; the pager is not safe to read
		// from the workers while the fetch loop advances it.
		total := pager.Total()
		mu.Lock()
		s.store.UpdateProgress(jobID, processed, total, "")
		mu.Unlock()

		wg.Add(1)
		sem <- struct{}{}
		go func(demands []moysklad.Demand, total int) {
			defer wg.Done()
			defer func() { <-sem }()

			counts := s.processPage(ctx, resolver, demands)

			mu.Lock()
			processed += len(demands)
			upserted += counts.Demands
			skipped += counts.Skipped
			s.store.UpdateProgress(jobID, processed, total, "")
			mu.Unlock()
		}(page, total)
	}
	wg.Wait()

	skipped += pager.Skipped()
	message := fmt.Sprintf("synced %d demands (%d skipped)", upserted, skipped)
	s.store.UpdateProgress(jobID, processed, pager.Total(), "")
	s.store.SetStatus(jobID, JobStatusCompleted, message)
	s.logger.WithFields(logrus.Fields{
		"jobId":     jobID,
		"processed": processed,
		"upserted":  upserted,
		"skipped":   skipped,
	}).Info("demand sync completed")
}

// processPage enriches and reconciles one page. Cost lookups are per demand
// and a failed lookup degrades to zero cost rather than failing the record.
func (s *Syncer) processPage(ctx context.Context, resolver *Resolver, demands []moysklad.Demand) UpsertCounts {
	enriched := resolver.ResolveBatch(ctx, demands)

	rows := make([]DemandRow, 0, len(enriched))
	for _, e := range enriched {
		items := BuildLineItems(e.Demand)

		costs, err := s.client.OperationCosts(ctx, e.ID)
		if err != nil {
			config.LogError(s.logger, "demandsync", "processPage", "cost lookup",
				map[string]interface{}{"demandId": e.ID}, err)
			costs = nil
		}

		var overhead int64
		if e.Overhead != nil {
			overhead = moysklad.MinorFromNumber(e.Overhead.Sum)
		}
		AllocateCosts(items, overhead, costs)
		rows = append(rows, BuildRow(e, items))
	}

	return s.upserter.UpsertBatch(ctx, rows)
}

func (s *Syncer) fail(jobID string, err error) {
	s.store.SetStatus(jobID, JobStatusFailed, err.Error())
	config.LogError(s.logger, "demandsync", "Run", "sync run failed",
		map[string]interface{}{"jobId": jobID}, err)
}
