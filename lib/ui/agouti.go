package ui

import (
	"time"

	"github.com/steadfastui/steadfast/lib/defaults"

	"github.com/gravitational/trace"
	web "github.com/sclevine/agouti"
	log "github.com/sirupsen/logrus"
)

// Page adapts an agouti page to the Browser interface. It tracks the
// currently selected frame so that elements found through it know which
// frame they belong to.
//
// A Page must be used from a single goroutine at a time, same as the
// underlying WebDriver session.
type Page struct {
	page  *web.Page
	frame Frame
	log.FieldLogger
}

// NewPage wraps an agouti page
func NewPage(page *web.Page, logger log.FieldLogger) *Page {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Page{page: page, FieldLogger: logger}
}

// FindElement returns the first element matching selector
func (p *Page) FindElement(selector string) (Element, error) {
	selection := p.page.First(selector)
	count, err := selection.Count()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if count == 0 {
		return nil, trace.NotFound("no element matches %q", selector)
	}
	return &element{selection: selection, frame: p.frame}, nil
}

// FindElements returns all elements matching selector, polling until at
// least one appears or timeout expires
func (p *Page) FindElements(selector string, timeout time.Duration) ([]Element, error) {
	deadline := time.Now().Add(timeout)
	for {
		all := p.page.All(selector)
		count, err := all.Count()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if count > 0 {
			elements := make([]Element, 0, count)
			for i := 0; i < count; i++ {
				elements = append(elements, &element{selection: all.At(i), frame: p.frame})
			}
			return elements, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		time.Sleep(defaults.PauseInterval)
	}
}

// SelectFrame makes frame the current browsing context
func (p *Page) SelectFrame(frame Frame) error {
	if frame == "" {
		return p.ResetFrame()
	}
	if err := p.page.First(string(frame)).SwitchToFrame(); err != nil {
		return trace.Wrap(err, "failed to switch to frame %q", frame)
	}
	p.frame = frame
	return nil
}

// ResetFrame switches back to the top-level document
func (p *Page) ResetFrame() error {
	if err := p.page.SwitchToRootFrame(); err != nil {
		return trace.Wrap(err)
	}
	p.frame = ""
	return nil
}

// PurgeAlerts confirms away pending browser alerts
func (p *Page) PurgeAlerts(reason string) (count int, err error) {
	for count < defaults.MaxPurgedAlerts {
		text, err := p.page.PopupText()
		if err != nil {
			// no popup is pending
			return count, nil
		}
		p.Warnf("purging alert %q: %v", text, reason)
		if err := p.page.ConfirmPopup(); err != nil {
			return count, trace.Wrap(err)
		}
		count++
	}
	return count, nil
}

// element adapts an agouti selection to the Element interface. Agouti
// selections re-resolve their selector on every call, so the wrapped
// selection stays usable across DOM updates as long as the selector
// still matches a node.
type element struct {
	selection *web.Selection
	frame     Frame
}

func (e *element) IsDisplayed(recheck bool) (bool, error) {
	if recheck {
		count, err := e.selection.Count()
		if err != nil {
			return false, trace.Wrap(err)
		}
		if count == 0 {
			return false, trace.NotFound("element %v is gone", e.selection)
		}
	}
	visible, err := e.selection.Visible()
	if err != nil {
		return false, trace.Wrap(err)
	}
	return visible, nil
}

func (e *element) IsEnabled() (bool, error) {
	enabled, err := e.selection.Enabled()
	if err != nil {
		return false, trace.Wrap(err)
	}
	return enabled, nil
}

func (e *element) Text(recovery bool) (string, error) {
	text, err := e.selection.Text()
	if err == nil {
		return text, nil
	}
	if !recovery {
		return "", trace.Wrap(err)
	}
	time.Sleep(defaults.TextRecoveryPause)
	text, err = e.selection.Text()
	if err != nil {
		return "", trace.Wrap(err)
	}
	return text, nil
}

func (e *element) Attribute(name string) (string, error) {
	value, err := e.selection.Attribute(name)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return value, nil
}

func (e *element) Click() error {
	return trace.Wrap(e.selection.Click())
}

func (e *element) Find(selector string) (Element, error) {
	selection := e.selection.First(selector)
	count, err := selection.Count()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if count == 0 {
		return nil, trace.NotFound("no element matches %q inside %v", selector, e.selection)
	}
	return &element{selection: selection, frame: e.frame}, nil
}

func (e *element) Frame() Frame {
	return e.frame
}
