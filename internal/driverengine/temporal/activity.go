package temporal

import (
	"context"

	"go.temporal.io/sdk/temporal"

	"github.com/metasched/orchestrator/internal/driver"
	"github.com/metasched/orchestrator/internal/driverengine"
)

const driverActivityName = "driveProtocol"

// temporalNoRetry disables Temporal's default retry behavior: a driver
// failure is fatal per spec §7, not something the core retries.
var temporalNoRetry = temporal.RetryPolicy{MaximumAttempts: 1}

// driverActivity adapts fn to a Temporal Activity function registered
// under driverActivityName.
func driverActivity(fn driver.Func) func(ctx context.Context, name string) (driverengine.Result, error) {
	return func(ctx context.Context, name string) (driverengine.Result, error) {
		files, err := fn(ctx, name)
		if err != nil {
			return driverengine.Result{}, err
		}
		return driverengine.Result{Files: files}, nil
	}
}
