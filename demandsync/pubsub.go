package demandsync

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/shipments_backend/config"
	"bitbucket.org/mmdatafocus/shipments_backend/utils"
)

func syncTopicName() string {
	return utils.StringFromEnv("DEMAND_SYNC_TOPIC", "demand-sync")
}

func pubsubEnabled() bool {
	return utils.BoolFromEnv("ENABLE_DEMAND_SYNC_PUBSUB", false)
}

// dispatchSyncJob routes a freshly created job to a worker. With Pub/Sub
// enabled the job travels over the topic so any instance can pick it up;
// otherwise (or when publishing fails) it runs on a local goroutine.
func dispatchSyncJob(ctx context.Context, jobID string, req SyncRequest, run RunFunc) {
	startDate, _ := time.Parse("2006-01-02", req.StartDate)
	endDate, _ := time.Parse("2006-01-02", req.EndDate)

	if pubsubEnabled() {
		payload := SyncPubSubPayload{
			JobId:     jobID,
			StartDate: req.StartDate,
			EndDate:   req.EndDate,
		}
		if _, err := config.PublishJSON(ctx, syncTopicName(), payload); err == nil {
			return
		}
		// Publish failure falls through to the inline path; the job must
		// not silently stay pending forever.
	}

	go run(context.WithoutCancel(ctx), jobID, startDate, endDate)
}
