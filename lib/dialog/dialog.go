/*
Package dialog implements the acquisition protocol for modal UI surfaces:
opening a dialog by clicking a trigger, tolerating a missed first click,
disambiguating between zero, one or several simultaneously open dialogs,
and restoring the iframe context on every exit path.

A Dialog instance must be used from a single goroutine at a time; sharing
one instance between concurrent callers is undefined behavior.
*/
package dialog

import (
	"fmt"
	"time"

	"github.com/steadfastui/steadfast/lib/defaults"
	"github.com/steadfastui/steadfast/lib/ui"
	"github.com/steadfastui/steadfast/lib/wait"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	uuid "github.com/satori/go.uuid"
	log "github.com/sirupsen/logrus"
)

// GenericLocator matches any ARIA-compliant dialog element. It is the
// last-resort pattern consulted when the configured locator finds
// nothing after both clicks.
const GenericLocator = `[role=dialog]`

// state of the acquisition machine
type state string

const (
	stateClosed    state = "closed"
	stateOpening   state = "opening"
	stateAmbiguous state = "ambiguous-resolution"
	stateOpen      state = "open"
	stateClosing   state = "closing"
)

// Config describes a dialog to acquire
type Config struct {
	// Locator is the selector matching the dialog root element
	Locator string
	// Frame names the iframe the dialog lives in, top document when empty.
	// The browser is expected to have this frame selected when a dialog
	// method is entered; the protocol restores it before returning.
	Frame ui.Frame
	// ValidateButton is the selector, relative to the dialog root, of the
	// control that closes the dialog accepting its input
	ValidateButton string
	// CancelButton is the selector, relative to the dialog root, of the
	// control that closes the dialog discarding its input
	CancelButton string
	// OpenTimeout bounds a single acquisition attempt
	OpenTimeout time.Duration
	// CloseTimeout bounds the wait for the dialog to leave the screen
	CloseTimeout time.Duration
	// EnabledTimeout bounds the wait for the trigger to become enabled
	EnabledTimeout time.Duration
	// Pause is the interval between condition evaluations
	Pause time.Duration
	// ExtraLoad, when set, is awaited after the dialog has been acquired,
	// for dialogs that keep loading content after they appear
	ExtraLoad *wait.Condition
	// PurgeAlerts purges transient browser alerts after opening
	PurgeAlerts bool
	// Clock is the time source, real clock when nil
	Clock clockwork.Clock
	// FieldLogger specifies the log sink
	log.FieldLogger
}

func (c *Config) checkAndSetDefaults() error {
	if c.Locator == "" {
		return trace.BadParameter("missing parameter Locator")
	}
	if c.ValidateButton == "" {
		c.ValidateButton = `button[type="submit"]`
	}
	if c.CancelButton == "" {
		c.CancelButton = `button[data-dismiss="modal"]`
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = defaults.DialogOpenTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = defaults.DialogCloseTimeout
	}
	if c.EnabledTimeout <= 0 {
		c.EnabledTimeout = defaults.EnabledTimeout
	}
	if c.Pause <= 0 {
		c.Pause = defaults.PauseInterval
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.FieldLogger == nil {
		c.FieldLogger = log.WithField("dialog", c.Locator)
	}
	return nil
}

// Dialog drives the open/close protocol for one modal surface. The bound
// element slot is nil until a successful open or lookup and is reassigned
// only at the defined transition points of the protocol.
type Dialog struct {
	Config
	browser ui.Browser
	element ui.Element
	trigger ui.Element
	state   state
}

// New returns a dialog over the given browser session
func New(browser ui.Browser, config Config) (*Dialog, error) {
	if browser == nil {
		return nil, trace.BadParameter("missing parameter browser")
	}
	if err := config.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Dialog{Config: config, browser: browser, state: stateClosed}, nil
}

// Element returns the currently bound dialog element, nil when the
// dialog has not been acquired
func (d *Dialog) Element() ui.Element {
	return d.element
}

// Open opens the dialog by clicking trigger and returns the acquired
// dialog element. A nil trigger means the dialog is assumed to be
// already open and only acquisition is performed.
func (d *Dialog) Open(trigger ui.Element) (ui.Element, error) {
	element, err := d.open(trigger, true)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return element, nil
}

func (d *Dialog) open(trigger ui.Element, purgeRetry bool) (ui.Element, error) {
	if trigger == nil {
		return d.Opened()
	}
	logger := d.FieldLogger.WithField("op", shortID())

	// A dialog already on screen before the click is a caller error:
	// opening a second dialog over it would only compound the mess.
	visible, err := d.visibleMatches(d.Locator, 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(visible) > 0 {
		return nil, trace.Wrap(&AmbiguousCountError{
			Locator:  d.Locator,
			Count:    len(visible),
			Expected: "none before the opening click",
		})
	}

	d.trigger = trigger
	d.transition(stateOpening, logger)
	started := d.Clock.Now()

	err = d.inTriggerFrame(trigger, func() error {
		if err := d.waitEnabled(trigger); err != nil {
			return trace.Wrap(err)
		}
		logger.Info("clicking the opening trigger")
		return trace.Wrap(trigger.Click())
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	element, err := d.acquire(d.OpenTimeout)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	secondClick := false
	if element == nil {
		secondClick = true
		logger.Warn("dialog did not appear after the first click, re-clicking the trigger")
		err = d.inTriggerFrame(trigger, func() error {
			switch outcome, err := classifyClick(trigger.Click()); outcome {
			case clickNotInteractable:
				// the dialog may have opened off the first click after all
				logger.WithError(err).Info("trigger not interactable on the workaround click, continuing")
				return nil
			case clickFailed:
				return trace.Wrap(err)
			}
			return nil
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		element, err = d.acquire(d.OpenTimeout)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	viaFallback := false
	if element == nil {
		generic, err := d.visibleMatches(GenericLocator, 0)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if len(generic) > 0 {
			// not worth failing the scenario over, but the locator needs fixing
			logger.Errorf("no dialog matches %q but a generic %v element is on screen: the configured locator is likely wrong",
				d.Locator, GenericLocator)
			element = generic[0]
			viaFallback = true
		}
	}
	if element == nil {
		return nil, trace.Wrap(d.timeoutError(started))
	}

	// ambiguity only arises between dialogs the configured locator can
	// see; a fallback-bound element has nothing to be ambiguous with
	if secondClick && !viaFallback {
		element, err = d.resolveAmbiguity(element, started, logger)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	if d.ExtraLoad != nil {
		settle := wait.Timeout{Pause: d.Pause, FailOnExpiry: true, Clock: d.Clock, FieldLogger: logger}
		if _, err := settle.Until(*d.ExtraLoad, d.OpenTimeout.Seconds()); err != nil {
			d.backreference(err)
			return nil, trace.Wrap(err)
		}
	}

	if d.PurgeAlerts {
		element, err = d.purgeAlerts(element, purgeRetry, logger)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if element == nil {
			return nil, trace.Wrap(d.timeoutError(started))
		}
	}

	d.element = element
	d.transition(stateOpen, logger)
	return element, nil
}

// Opened acquires the dialog without clicking anything. When the bound
// reference is still live it is returned as is, so repeated calls on a
// stable dialog are free of side effects.
func (d *Dialog) Opened() (ui.Element, error) {
	logger := d.FieldLogger
	if d.element != nil {
		displayed, err := d.element.IsDisplayed(true)
		if err != nil && !ui.IsStale(err) {
			return nil, trace.Wrap(err)
		}
		if err == nil && displayed {
			return d.element, nil
		}
		logger.Info("bound dialog reference is no longer live, re-acquiring")
		d.element = nil
		d.transition(stateClosed, logger)
	}
	started := d.Clock.Now()
	element, err := d.acquire(d.OpenTimeout)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if element == nil {
		return nil, trace.Wrap(d.timeoutError(started))
	}
	d.element = element
	d.transition(stateOpen, logger)
	return element, nil
}

// Close resolves and clicks the validate or cancel control of the dialog
// and waits for the dialog to leave the screen. The dialog is acquired
// first if this is the first interaction with an already-open dialog.
// A disabled control is reported as NotEnabledError without clicking.
func (d *Dialog) Close(validate bool) error {
	element, err := d.Opened()
	if err != nil {
		return trace.Wrap(err)
	}
	logger := d.FieldLogger
	d.transition(stateClosing, logger)

	selector, control := d.CancelButton, "cancel control"
	if validate {
		selector, control = d.ValidateButton, "validate control"
	}
	button, err := element.Find(selector)
	if err != nil {
		return trace.Wrap(err)
	}
	enabled, err := button.IsEnabled()
	if err != nil {
		return trace.Wrap(err)
	}
	if !enabled {
		return trace.Wrap(&NotEnabledError{Dialog: d, Control: control})
	}
	logger.Infof("closing via %v %q", control, selector)
	if err := button.Click(); err != nil {
		return trace.Wrap(err)
	}

	gone := wait.Timeout{Pause: d.Pause, FailOnExpiry: true, Clock: d.Clock, FieldLogger: logger}
	if _, err := gone.While(wait.Displayed(element, true), d.CloseTimeout.Seconds()); err != nil {
		d.backreference(err)
		return trace.Wrap(err)
	}
	d.element = nil
	d.trigger = nil
	d.transition(stateClosed, logger)
	return nil
}

// resolveAmbiguity decides which element to keep after a workaround
// click: the match at hand may be about to be replaced by a dialog the
// second click spawned, or a duplicate may be on screen.
func (d *Dialog) resolveAmbiguity(element ui.Element, started time.Time, logger log.FieldLogger) (ui.Element, error) {
	d.transition(stateAmbiguous, logger)

	// A replacement dialog would appear within roughly the time the
	// first open took, so the staleness window scales with it.
	window := 2 * d.Clock.Now().Sub(started)
	if window < defaults.StaleCheckFloor {
		window = defaults.StaleCheckFloor
	}
	if window > d.OpenTimeout {
		window = d.OpenTimeout
	}
	probe := wait.Timeout{Pause: d.Pause, Clock: d.Clock, FieldLogger: logger}
	stale, err := probe.Until(wait.Stale(element), window.Seconds())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if stale {
		// expected transient noise: the first match was a false one
		logger.Info("first match went stale during ambiguity resolution, re-acquiring")
		element, err = d.acquire(d.OpenTimeout)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if element == nil {
			return nil, trace.Wrap(d.timeoutError(started))
		}
	}

	// The count is recomputed here on purpose: the DOM has had time to
	// change since the last scan.
	visible, err := d.visibleMatches(d.Locator, 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	switch len(visible) {
	case 1:
		logger.Info("ambiguity resolved, exactly one dialog on screen")
		return visible[0], nil
	case 2:
		// Keeps the later of the two assuming DOM order reflects open
		// order, which the target platform does not guarantee anywhere.
		logger.Warn("two dialogs on screen after the workaround click, closing the first as a spurious duplicate")
		button, err := visible[0].Find(d.CancelButton)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if err := button.Click(); err != nil {
			return nil, trace.Wrap(err)
		}
		d.Clock.Sleep(defaults.SettlePause)
		return visible[1], nil
	default:
		return nil, trace.Wrap(&AmbiguousCountError{
			Locator:  d.Locator,
			Count:    len(visible),
			Expected: "exactly one or two after the workaround click",
		})
	}
}

// purgeAlerts dismisses transient browser alerts that may have appeared
// while the dialog was opening. If the purge took the dialog itself down
// the whole open is retried once, re-clicking the bound trigger slot.
func (d *Dialog) purgeAlerts(element ui.Element, retry bool, logger log.FieldLogger) (ui.Element, error) {
	purged, err := d.browser.PurgeAlerts(fmt.Sprintf("opening dialog %q", d.Locator))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if purged == 0 {
		return element, nil
	}
	logger.Warnf("purged %v alerts while opening", purged)
	displayed, err := element.IsDisplayed(true)
	if err != nil && !ui.IsStale(err) {
		return nil, trace.Wrap(err)
	}
	if err == nil && displayed {
		return element, nil
	}
	if !retry {
		return nil, nil
	}
	logger.Warn("alert purge took the dialog down, retrying the open")
	d.element = nil
	d.transition(stateClosed, logger)
	return d.open(d.trigger, false)
}

// acquire polls for a visible dialog within timeout and returns it, or
// nil when none appeared. Expiry is not an error here: the caller owns
// the decision between workaround, fallback and failure.
func (d *Dialog) acquire(timeout time.Duration) (ui.Element, error) {
	var found ui.Element
	poll := wait.Timeout{Pause: d.Pause, Clock: d.Clock, FieldLogger: d.FieldLogger}
	_, err := poll.Until(wait.Condition{
		Description: fmt.Sprintf("dialog %q is displayed", d.Locator),
		Check: func() (bool, error) {
			visible, err := d.visibleMatches(d.Locator, 0)
			if err != nil {
				return false, trace.Wrap(err)
			}
			if len(visible) == 0 {
				found = nil
				return false, nil
			}
			found = visible[0]
			return true, nil
		},
	}, timeout.Seconds())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return found, nil
}

// visibleMatches scans for elements matching locator that are currently
// displayed. The result is never cached: the count is only meaningful at
// the moment of the scan.
func (d *Dialog) visibleMatches(locator string, timeout time.Duration) ([]ui.Element, error) {
	matches, err := d.browser.FindElements(locator, timeout)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var visible []ui.Element
	for _, element := range matches {
		displayed, err := element.IsDisplayed(false)
		if err != nil {
			if ui.IsStale(err) {
				// vanished between the scan and the check
				continue
			}
			return nil, trace.Wrap(err)
		}
		if displayed {
			visible = append(visible, element)
		}
	}
	return visible, nil
}

// waitEnabled gives the trigger a short bounded wait to become enabled.
// Clicking a disabled control is a distinct failure from a dialog not
// opening, so it gets its own error.
func (d *Dialog) waitEnabled(trigger ui.Element) error {
	probe := wait.Timeout{Pause: d.Pause, Clock: d.Clock, FieldLogger: d.FieldLogger}
	enabled, err := probe.Until(wait.Enabled(trigger), d.EnabledTimeout.Seconds())
	if err != nil {
		return trace.Wrap(err)
	}
	if !enabled {
		return trace.Wrap(&NotEnabledError{Dialog: d, Control: "opening trigger"})
	}
	return nil
}

// inTriggerFrame runs fn with the trigger's frame selected and restores
// the dialog's own frame on every exit path, including errors.
func (d *Dialog) inTriggerFrame(trigger ui.Element, fn func() error) (err error) {
	triggerFrame := trigger.Frame()
	if triggerFrame == d.Frame {
		return fn()
	}
	if err := d.browser.ResetFrame(); err != nil {
		return trace.Wrap(err)
	}
	defer func() {
		if rerr := d.selectOwnFrame(); rerr != nil && err == nil {
			err = trace.Wrap(rerr)
		}
	}()
	if triggerFrame != "" {
		if err := d.browser.SelectFrame(triggerFrame); err != nil {
			return trace.Wrap(err)
		}
	}
	return fn()
}

func (d *Dialog) selectOwnFrame() error {
	if err := d.browser.ResetFrame(); err != nil {
		return trace.Wrap(err)
	}
	if d.Frame == "" {
		return nil
	}
	return trace.Wrap(d.browser.SelectFrame(d.Frame))
}

func (d *Dialog) timeoutError(started time.Time) error {
	return &wait.TimeoutError{
		Condition: fmt.Sprintf("dialog %q is displayed", d.Locator),
		Elapsed:   d.Clock.Now().Sub(started),
		State:     false,
		Subject:   d,
	}
}

// backreference attaches the dialog to a timeout error raised on its
// behalf so the enclosing retry layer can reach the dialog
func (d *Dialog) backreference(err error) {
	if terr, ok := trace.Unwrap(err).(*wait.TimeoutError); ok {
		terr.Subject = d
	}
}

func (d *Dialog) transition(next state, logger log.FieldLogger) {
	if d.state == next {
		return
	}
	logger.WithFields(log.Fields{"from": d.state, "to": next}).Debug("state transition")
	d.state = next
}

// clickOutcome is the tri-state result of a click attempt, so the
// workaround branch is driven by data rather than exception matching
type clickOutcome int

const (
	clickOK clickOutcome = iota
	clickNotInteractable
	clickFailed
)

func classifyClick(err error) (clickOutcome, error) {
	switch {
	case err == nil:
		return clickOK, nil
	case ui.IsNotInteractable(err):
		return clickNotInteractable, err
	default:
		return clickFailed, err
	}
}

func shortID() string {
	return uuid.NewV4().String()[:8]
}
