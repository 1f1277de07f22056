package dialog

import (
	"fmt"

	"github.com/gravitational/trace"
)

// NotEnabledError is reported when an action is attempted on a control
// that is not enabled within its allotted wait. It carries the dialog so
// the caller can inspect or cancel it. The failure is retryable: the
// control may simply not have finished initializing.
type NotEnabledError struct {
	// Dialog is the dialog the control belongs to
	Dialog *Dialog
	// Control describes the control that stayed disabled
	Control string
}

func (e *NotEnabledError) Error() string {
	return fmt.Sprintf("%v of dialog %q is not enabled", e.Control, e.Dialog.Locator)
}

// Retryable classifies the error for the retry layer
func (e *NotEnabledError) Retryable() bool { return true }

// IsNotEnabled determines whether err is a NotEnabledError
func IsNotEnabled(err error) bool {
	_, ok := trace.Unwrap(err).(*NotEnabledError)
	return ok
}

// AmbiguousCountError is reported when the number of simultaneously
// visible dialogs does not match what the protocol expects at a decision
// point. This signals a product or page defect, not transient flakiness,
// so it is fatal: the retry layer must let it propagate.
type AmbiguousCountError struct {
	// Locator is the dialog locator that was scanned for
	Locator string
	// Count is the number of visible matches observed
	Count int
	// Expected describes the acceptable count at this decision point
	Expected string
}

func (e *AmbiguousCountError) Error() string {
	return fmt.Sprintf("found %v visible dialogs matching %q, expected %v",
		e.Count, e.Locator, e.Expected)
}

// Retryable classifies the error for the retry layer
func (e *AmbiguousCountError) Retryable() bool { return false }

// IsAmbiguousCount determines whether err is an AmbiguousCountError
func IsAmbiguousCount(err error) bool {
	_, ok := trace.Unwrap(err).(*AmbiguousCountError)
	return ok
}
