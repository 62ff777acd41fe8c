package utils

import (
	"context"

	"github.com/poskusoft/pos_backend/appctx"
)

func GetTerminalIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyTerminalId)
}

func SetTerminalIdInContext(ctx context.Context, terminalId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyTerminalId, terminalId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyCorrelationId, correlationId)
}
