package demandsync

import "time"

// SyncRequest is the trigger payload. Dates are inclusive calendar days.
type SyncRequest struct {
	StartDate string `json:"startDate" binding:"required,datetime=2006-01-02"`
	EndDate   string `json:"endDate" binding:"required,datetime=2006-01-02"`
}

// SyncPubSubPayload rides on the sync topic between trigger and worker.
type SyncPubSubPayload struct {
	JobId     string `json:"jobId" validate:"required"`
	StartDate string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"endDate" validate:"required,datetime=2006-01-02"`
}

// PubSubPushEnvelope is the push-subscription wrapper Google delivers.
// Data is base64 on the wire and decoded by the JSON layer.
type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// JobResponse is the public view of a job.
type JobResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func mapJobToResponse(job *Job) JobResponse {
	return JobResponse{
		ID:        job.ID,
		Status:    string(job.Status),
		Processed: job.Processed,
		Total:     job.Total,
		Message:   job.Message,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
