package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"

	"github.com/poskusoft/pos_backend/config"
)

// WarehouseLock serializes posting critical sections per warehouse across
// processes (two terminals selling from the same stock). Returns a release
// function. The row locks inside the posting transaction remain the
// authoritative guard; this keeps lock-wait pileups short.
func WarehouseLock(ctx context.Context, warehouseId int, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Redis not connected yet (or tests without redis); fall through to
		// row-level locking only.
		return func() {}, nil
	}

	lockKey := fmt.Sprintf("postingLock:warehouse:%d", warehouseId)
	backoff := redislock.LinearBackoff(50 * time.Millisecond)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(backoff, 100),
	})
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "could not obtain posting lock", warehouseId, err)
		return nil, &ConcurrencyConflict{Resource: lockKey, Err: errors.New("could not obtain posting lock")}
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "error obtaining posting lock", warehouseId, err)
		return nil, err
	}

	return func() { _ = lock.Release(context.WithoutCancel(ctx)) }, nil
}
