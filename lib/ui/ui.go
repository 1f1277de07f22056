/*
Package ui defines the narrow element/browser capability sets the waiting
and dialog-acquisition machinery is built against, plus an agouti-backed
implementation of both.

The interfaces are deliberately small: page objects and scenario code own
everything else (navigation, locator building, session lifecycle).
*/
package ui

import (
	"strings"
	"time"

	"github.com/gravitational/trace"
)

// Frame identifies the iframe an element lives in by the selector of its
// <iframe> node. The empty Frame denotes the top-level document.
type Frame string

// Element is a live reference to a single DOM node.
//
// A reference can go stale at any point: the node it was bound to may be
// replaced or removed between calls. Methods report that through errors
// recognized by IsStale, they never panic on a dead node.
type Element interface {
	// IsDisplayed reports whether the element is currently visible.
	// With recheck set the element is re-resolved from its selector first,
	// so a removed node reports an IsStale error instead of a cached answer.
	IsDisplayed(recheck bool) (bool, error)
	// IsEnabled reports whether the element accepts interaction.
	IsEnabled() (bool, error)
	// Text returns the element's visible text. With recovery set a failed
	// read is retried once after a short pause.
	Text(recovery bool) (string, error)
	// Attribute returns the value of the named attribute.
	Attribute(name string) (string, error)
	// Click clicks the element.
	Click() error
	// Find returns the first descendant matching selector.
	Find(selector string) (Element, error)
	// Frame returns the frame the element was found in.
	Frame() Frame
}

// Browser is the session-wide capability set: lookups, frame selection
// and alert purging.
type Browser interface {
	// FindElement returns the first element matching selector in the
	// currently selected frame, or trace.NotFound.
	FindElement(selector string) (Element, error)
	// FindElements returns all elements matching selector, polling until
	// at least one appears or timeout expires. A zero timeout means a
	// single scan. An empty result is not an error.
	FindElements(selector string, timeout time.Duration) ([]Element, error)
	// SelectFrame makes frame the current browsing context.
	SelectFrame(frame Frame) error
	// ResetFrame switches back to the top-level document.
	ResetFrame() error
	// PurgeAlerts confirms away any pending browser alerts and returns
	// how many were dismissed. reason is recorded in the log.
	PurgeAlerts(reason string) (int, error)
}

// IsStale determines whether err signals that a previously bound element
// no longer corresponds to a live DOM node. WebDriver implementations
// only expose this through message text, so classification is by pattern.
func IsStale(err error) bool {
	if err == nil {
		return false
	}
	if trace.IsNotFound(err) {
		return true
	}
	msg := strings.ToLower(trace.UserMessage(err))
	return strings.Contains(msg, "stale element reference") ||
		strings.Contains(msg, "not attached to the page document") ||
		strings.Contains(msg, "element not found")
}

// IsNotInteractable determines whether err signals a click that the
// browser refused because the element cannot receive the interaction
// right now (covered, zero-sized, mid-animation).
func IsNotInteractable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(trace.UserMessage(err))
	return strings.Contains(msg, "not interactable") ||
		strings.Contains(msg, "is not clickable") ||
		strings.Contains(msg, "would receive the click")
}
