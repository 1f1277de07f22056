package wait

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/steadfastui/steadfast/lib/defaults"

	"github.com/cenkalti/backoff"
	"github.com/dustin/go-humanize"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
)

// Abort causes Retry function to stop with error
func Abort(err error) AbortRetry {
	return AbortRetry{Err: err}
}

// Continue causes Retry function to continue trying and logging message
func Continue(format string, args ...interface{}) ContinueRetry {
	message := fmt.Sprintf(format, args...)
	return ContinueRetry{Message: message}
}

// AbortRetry if returned from Retry, will lead to retries to be stopped,
// but the Retry function will return internal Error
type AbortRetry struct {
	Err error
}

func (r AbortRetry) Error() string {
	return fmt.Sprintf("Abort(%v)", r.Err)
}

// ContinueRetry if returned from Retry, will be lead to retry next time
type ContinueRetry struct {
	Message string
}

func (r ContinueRetry) Error() string {
	return fmt.Sprintf("ContinueRetry(%v)", r.Message)
}

// Retry attempts to execute fn with default delay retrying it for a default number of attempts.
// fn can return AbortRetry to abort or ContinueRetry to continue the execution.
func Retry(ctx context.Context, fn func() error) error {
	r := Retryer{
		Delay:    defaults.RetryDelay,
		Attempts: defaults.RetryAttempts,
	}
	return r.Do(ctx, fn)
}

// Retryer is a process that can retry a function
type Retryer struct {
	// Delay specifies the interval between retry attempts
	Delay time.Duration
	// Attempts specifies the number of attempts to execute before failing.
	// Should be >= 1, zero value is not useful
	Attempts int
	// FieldLogger specifies the log sink
	log.FieldLogger
}

// Do retries the given function fn for the configured number of attempts
// until it succeeds or all attempts have been exhausted. Errors the
// taxonomy marks fatal stop the retries immediately.
func (r Retryer) Do(ctx context.Context, fn func() error) (err error) {
	if r.FieldLogger == nil {
		r.FieldLogger = log.NewEntry(log.StandardLogger())
	}

	if ctx.Err() != nil {
		return trace.Wrap(ctx.Err())
	}

	for i := 1; i <= r.Attempts; i += 1 {
		err = fn()
		if err == nil {
			r.Debug("succeeded")
			return nil
		}

		le := r.FieldLogger
		if deadline, ok := ctx.Deadline(); ok {
			le = le.WithField("timeout-in", fmt.Sprintf("%v", time.Until(deadline)))
		}
		switch origErr := err.(type) {
		case AbortRetry:
			le.WithError(err).Error("aborted")
			return origErr.Err
		case ContinueRetry:
			le.Debugf("%v retry in %v", origErr.Message, r.Delay)
		default:
			if !IsRetryable(err) {
				le.WithError(err).Error("fatal failure, give up")
				return err
			}
			le.Debugf("unsuccessful %v attempt: %v, retry in %v",
				humanize.Ordinal(i), trace.UserMessage(err), r.Delay)
		}

		if serr := Sleep(ctx, delayFor(r.Delay, i)); serr != nil {
			r.Error("context timed out")
			return err
		}
	}
	r.Errorf("all attempts failed:\n%v", trace.DebugReport(err))
	return err
}

// RetryWithInterval retries fn on the given interval schedule until it
// succeeds, the schedule or the context gives up, or the error turns out
// to be fatal. Abort and Continue sentinels work the same as with Do.
func RetryWithInterval(ctx context.Context, interval backoff.BackOff, fn func() error, logger log.FieldLogger) error {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		switch origErr := err.(type) {
		case AbortRetry:
			return backoff.Permanent(origErr.Err)
		case ContinueRetry:
			return err
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(interval, ctx), func(err error, delay time.Duration) {
		logger.Debugf("%v attempt failed: %v, retry in %v",
			humanize.Ordinal(attempt), trace.UserMessage(err), delay)
	})
	if err != nil {
		logger.Errorf("all attempts failed:\n%v", trace.DebugReport(err))
		return trace.Wrap(err)
	}
	return nil
}

func delayFor(baseDelay time.Duration, errCount int) time.Duration {
	delay := baseDelay * time.Duration(math.Pow(2, float64(errCount)-1))
	if delay > defaults.RetryMaxDelay {
		return defaults.RetryMaxDelay
	}
	return delay
}
