package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/shipments_backend/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyJobId         = appctx.ContextKeyJobId
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetJobIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyJobId)
}

func SetJobIdInContext(ctx context.Context, jobId string) context.Context {
	return appctx.Set(ctx, ContextKeyJobId, jobId)
}
