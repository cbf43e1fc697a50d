package demandsync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/shipments_backend/utils"
)

// RunFunc executes one sync job; the default is (*Syncer).Run.
type RunFunc func(ctx context.Context, jobID string, startDate, endDate time.Time)

// TriggerSyncHandler accepts a date range, registers a job and hands it to
// the runner. The response is the job id; clients poll the status endpoint.
func TriggerSyncHandler(store JobStore, run RunFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "startDate and endDate are required in YYYY-MM-DD format"})
			return
		}

		startDate, _ := time.Parse("2006-01-02", req.StartDate)
		endDate, _ := time.Parse("2006-01-02", req.EndDate)
		if endDate.Before(startDate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "endDate must not be before startDate"})
			return
		}

		job := store.Create()
		dispatchSyncJob(c.Request.Context(), job.ID, req, run)

		c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID})
	}
}

// JobStatusHandler reports one job by id.
func JobStatusHandler(store JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := store.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusOK, mapJobToResponse(job))
	}
}

// PubSubPushHandler consumes push deliveries from the sync topic. It always
// answers 204: a malformed message must be dropped, not redelivered forever.
func PubSubPushHandler(store JobStore, run RunFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		if err := utils.ValidateStruct(payload); err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		startDate, _ := time.Parse("2006-01-02", payload.StartDate)
		endDate, _ := time.Parse("2006-01-02", payload.EndDate)

		// The job was registered by whichever instance accepted the trigger;
		// this instance may be a different one, so adopt the id locally.
		job := store.Adopt(payload.JobId)
		if job.Status.Terminal() {
			c.Status(http.StatusNoContent)
			return
		}

		run(context.WithoutCancel(c.Request.Context()), payload.JobId, startDate, endDate)
		c.Status(http.StatusNoContent)
	}
}
