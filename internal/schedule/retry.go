package schedule

import (
	"log"
	"time"

	"github.com/shihao-ju/finx-sidekick/internal/store"
)

// RetryPolicy bounds one fire's work: up to MaxAttempts calls with
// exponential backoff (BaseBackoff * 2^(i-1)) between attempt i and i+1.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// RetryResult reports how a retried call concluded. Status uses the
// RunRecord status vocabulary.
type RetryResult struct {
	Status     string
	RetryCount int
	Err        error
}

// RunWithRetry calls fn until it succeeds or attempts are exhausted. Sleeps
// hold no locks. A fn that completes with empty=true is a soft success
// (status warning, not retried): upstream legitimately had nothing, as
// opposed to the call failing. sleep may be nil for time.Sleep.
func RunWithRetry(fn func() (empty bool, err error), policy RetryPolicy, sleep func(time.Duration)) RetryResult {
	if sleep == nil {
		sleep = time.Sleep
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		empty, err := fn()
		if err == nil {
			status := store.StatusSuccess
			if empty {
				status = store.StatusWarning
			}
			return RetryResult{Status: status, RetryCount: attempt - 1}
		}

		log.Printf("[scheduler] attempt %d/%d failed: %v", attempt, policy.MaxAttempts, err)
		if attempt == policy.MaxAttempts {
			return RetryResult{Status: store.StatusError, RetryCount: policy.MaxAttempts, Err: err}
		}
		wait := policy.BaseBackoff << (attempt - 1)
		log.Printf("[scheduler] retrying in %v", wait)
		sleep(wait)
	}
	return RetryResult{Status: store.StatusError, RetryCount: policy.MaxAttempts}
}
