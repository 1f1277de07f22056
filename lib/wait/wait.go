/*
Package wait implements the polling engine the rest of the framework is
built on: a bounded busy-wait over an arbitrary boolean condition, plus a
library of ready-made element conditions and a retry layer for whole
operations.

Everything here is synchronous and single-threaded. The only suspension
points are the explicit pause sleeps between condition evaluations.
*/
package wait

import (
	"fmt"
	"time"

	"github.com/steadfastui/steadfast/lib/defaults"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// Condition is a boolean predicate over browser state together with its
// human-readable label. Check is re-evaluated on every poll; it must be
// cheap and side-effect free.
type Condition struct {
	// Description names the condition in log lines and failure messages
	Description string
	// Check evaluates the condition
	Check func() (bool, error)
	// Diagnose, when set, is called once right before an expiry is
	// reported and its result is logged. Conditions use it to dump the
	// last observed state against the expected one.
	Diagnose func() string
}

func (c Condition) String() string {
	return c.Description
}

// Timeout is a reusable wait configuration. The deadline itself is
// supplied per call, so one value can serve several waits under
// different durations.
//
// The zero value polls every defaults.PauseInterval against the real
// clock and reports expiry by returning false rather than an error.
type Timeout struct {
	// Pause is the sleep between condition evaluations
	Pause time.Duration
	// FailOnExpiry makes an expired wait return a TimeoutError instead
	// of false
	FailOnExpiry bool
	// Clock is the time source, real clock when nil
	Clock clockwork.Clock
	// FieldLogger specifies the log sink
	log.FieldLogger
}

// Until blocks while cond is false and returns true as soon as it holds.
// If seconds elapse first, Until returns false, or a TimeoutError when
// the Timeout is configured to fail on expiry.
func (t Timeout) Until(cond Condition, seconds float64) (bool, error) {
	return t.wait(cond, seconds, true)
}

// While is the mirror image of Until: it blocks while cond is true and
// returns true once it stops holding.
func (t Timeout) While(cond Condition, seconds float64) (bool, error) {
	return t.wait(cond, seconds, false)
}

// wait polls cond until it reports target or the deadline passes. The
// condition is evaluated once up front so an already-satisfied wait
// returns without sleeping, and at least once more after the deadline
// check, so even a sub-pause duration gets two evaluations.
func (t Timeout) wait(cond Condition, seconds float64, target bool) (bool, error) {
	clock := t.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := t.FieldLogger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	pause := t.Pause
	if pause <= 0 {
		pause = defaults.PauseInterval
	}

	// The deadline is computed once from wall time so slow condition
	// evaluation never extends the effective timeout.
	start := clock.Now()
	deadline := start.Add(DurationFromSeconds(seconds))

	ok, err := cond.Check()
	if err != nil {
		return false, trace.Wrap(err)
	}
	if ok == target {
		return true, nil
	}
	for {
		clock.Sleep(pause)
		ok, err = cond.Check()
		if err != nil {
			return false, trace.Wrap(err)
		}
		if ok == target {
			return true, nil
		}
		if clock.Now().After(deadline) {
			break
		}
	}

	elapsed := clock.Now().Sub(start)
	if cond.Diagnose != nil {
		logger.Warn(cond.Diagnose())
	}
	if !t.FailOnExpiry {
		logger.Debugf("condition %q was still %v after %.1f seconds",
			cond.Description, !target, elapsed.Seconds())
		return false, nil
	}
	return false, trace.Wrap(&TimeoutError{
		Condition: cond.Description,
		Elapsed:   elapsed,
		State:     !target,
	})
}

// DurationFromSeconds converts a floating-point number of seconds into a
// duration with millisecond resolution. The fractional remainder below
// one millisecond is truncated, not rounded, which can shave up to 999µs
// off the requested timeout. This matches what every existing call site
// has always gotten.
func DurationFromSeconds(seconds float64) time.Duration {
	return time.Duration(seconds*1000) * time.Millisecond
}

// TimeoutError is reported when a wait expires with its condition still
// unsatisfied. It is a retryable failure: the enclosing retry layer may
// re-attempt the whole operation.
type TimeoutError struct {
	// Condition is the label of the condition that never settled
	Condition string
	// Elapsed is how long the wait actually blocked
	Elapsed time.Duration
	// State is the value the condition was stuck at
	State bool
	// Subject optionally points back at the object being waited on,
	// e.g. the dialog under acquisition
	Subject interface{}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Condition %q was still %v after %.1f seconds, give up",
		e.Condition, e.State, e.Elapsed.Seconds())
}

// Retryable classifies the error for the retry layer
func (e *TimeoutError) Retryable() bool { return true }

// IsTimeout determines whether err is a TimeoutError
func IsTimeout(err error) bool {
	_, ok := trace.Unwrap(err).(*TimeoutError)
	return ok
}

// retryable is implemented by taxonomy errors that declare whether the
// failed operation may be re-attempted
type retryable interface {
	Retryable() bool
}

// IsRetryable classifies err for an enclosing retry layer. Taxonomy
// errors speak for themselves, missing-implementation errors are
// programmer errors, anything else is assumed to be transient browser
// noise worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if trace.IsNotImplemented(err) {
		return false
	}
	if r, ok := trace.Unwrap(err).(retryable); ok {
		return r.Retryable()
	}
	return true
}
