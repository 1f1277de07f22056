package dialog

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/steadfastui/steadfast/lib/ui"
	"github.com/steadfastui/steadfast/lib/wait"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLocator = ".modal"

// clickStep scripts one click on a fake element: an error to report and
// a DOM mutation to apply
type clickStep struct {
	err error
	do  func()
}

// fakeElement is a scriptable stand-in for a DOM node. Visibility and
// staleness can be scheduled on the wall clock so tests can reproduce
// dialogs that appear late or get replaced mid-acquisition.
type fakeElement struct {
	id       string
	visible  bool
	enabled  bool
	appearAt time.Time
	staleAt  time.Time
	text     string
	frame    ui.Frame
	children map[string]*fakeElement
	script   []clickStep
	onClick  func()
	clicks   int
}

func (e *fakeElement) isStaleNow() bool {
	return !e.staleAt.IsZero() && !time.Now().Before(e.staleAt)
}

func (e *fakeElement) IsDisplayed(recheck bool) (bool, error) {
	if e.isStaleNow() {
		return false, trace.NotFound("stale element reference")
	}
	if !e.appearAt.IsZero() && time.Now().Before(e.appearAt) {
		return false, nil
	}
	return e.visible, nil
}

func (e *fakeElement) IsEnabled() (bool, error) {
	if e.isStaleNow() {
		return false, trace.NotFound("stale element reference")
	}
	return e.enabled, nil
}

func (e *fakeElement) Text(recovery bool) (string, error) {
	if e.isStaleNow() {
		return "", trace.NotFound("stale element reference")
	}
	return e.text, nil
}

func (e *fakeElement) Attribute(name string) (string, error) {
	return "", trace.NotFound("no attributes scripted")
}

func (e *fakeElement) Click() error {
	e.clicks++
	if len(e.script) > 0 {
		step := e.script[0]
		e.script = e.script[1:]
		if step.do != nil {
			step.do()
		}
		return step.err
	}
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}

func (e *fakeElement) Find(selector string) (ui.Element, error) {
	if child, ok := e.children[selector]; ok {
		return child, nil
	}
	return nil, trace.NotFound("no element matches %q inside %v", selector, e.id)
}

func (e *fakeElement) Frame() ui.Frame { return e.frame }

// purgeStep scripts one PurgeAlerts call
type purgeStep struct {
	count int
	do    func()
}

// fakeBrowser is a scriptable browser session: element pools per
// locator, frame bookkeeping and alert purging
type fakeBrowser struct {
	dialogs    []*fakeElement
	generics   []*fakeElement
	frame      ui.Frame
	frameOps   []string
	purgeQueue []purgeStep
	purgeCalls int
}

func (b *fakeBrowser) FindElement(selector string) (ui.Element, error) {
	elements, err := b.FindElements(selector, 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(elements) == 0 {
		return nil, trace.NotFound("no element matches %q", selector)
	}
	return elements[0], nil
}

func (b *fakeBrowser) FindElements(selector string, timeout time.Duration) ([]ui.Element, error) {
	var pool []*fakeElement
	switch selector {
	case testLocator:
		pool = b.dialogs
	case GenericLocator:
		pool = b.generics
	}
	elements := make([]ui.Element, 0, len(pool))
	for _, element := range pool {
		elements = append(elements, element)
	}
	return elements, nil
}

func (b *fakeBrowser) SelectFrame(frame ui.Frame) error {
	b.frameOps = append(b.frameOps, "select:"+string(frame))
	b.frame = frame
	return nil
}

func (b *fakeBrowser) ResetFrame() error {
	b.frameOps = append(b.frameOps, "reset")
	b.frame = ""
	return nil
}

func (b *fakeBrowser) PurgeAlerts(reason string) (int, error) {
	b.purgeCalls++
	if len(b.purgeQueue) == 0 {
		return 0, nil
	}
	step := b.purgeQueue[0]
	b.purgeQueue = b.purgeQueue[1:]
	if step.do != nil {
		step.do()
	}
	return step.count, nil
}

func (b *fakeBrowser) addDialog(element *fakeElement) {
	b.dialogs = append(b.dialogs, element)
}

func newDialogElement(id string) *fakeElement {
	return &fakeElement{
		id:      id,
		visible: true,
		enabled: true,
		children: map[string]*fakeElement{
			".btn-ok":     {id: id + "/ok", visible: true, enabled: true},
			".btn-cancel": {id: id + "/cancel", visible: true, enabled: true},
		},
	}
}

func newTrigger() *fakeElement {
	return &fakeElement{id: "trigger", visible: true, enabled: true}
}

func newTestDialog(t *testing.T, browser *fakeBrowser, tweak func(*Config)) (*Dialog, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.Level = log.DebugLevel
	config := Config{
		Locator:        testLocator,
		ValidateButton: ".btn-ok",
		CancelButton:   ".btn-cancel",
		OpenTimeout:    300 * time.Millisecond,
		CloseTimeout:   300 * time.Millisecond,
		EnabledTimeout: 200 * time.Millisecond,
		Pause:          10 * time.Millisecond,
		FieldLogger:    logger.WithField("test", t.Name()),
	}
	if tweak != nil {
		tweak(&config)
	}
	d, err := New(browser, config)
	require.NoError(t, err)
	return d, hook
}

func logContains(hook *test.Hook, substr string) bool {
	for _, entry := range hook.Entries {
		if strings.Contains(entry.Message, substr) {
			return true
		}
	}
	return false
}

func TestNewValidatesParameters(t *testing.T) {
	_, err := New(nil, Config{Locator: testLocator})
	assert.True(t, trace.IsBadParameter(err))

	_, err = New(&fakeBrowser{}, Config{})
	assert.True(t, trace.IsBadParameter(err))
}

func TestOpenHappyPath(t *testing.T) {
	browser := &fakeBrowser{}
	trigger := newTrigger()
	opened := newDialogElement("dlg")
	trigger.onClick = func() { browser.addDialog(opened) }

	d, hook := newTestDialog(t, browser, nil)
	element, err := d.Open(trigger)

	require.NoError(t, err)
	assert.Equal(t, ui.Element(opened), element)
	assert.Equal(t, 1, trigger.clicks, "no workaround click on the happy path")
	assert.Equal(t, ui.Element(opened), d.Element())
	assert.False(t, logContains(hook, "re-clicking"))
}

func TestOpenFailsFastOnPreexistingDialog(t *testing.T) {
	browser := &fakeBrowser{}
	browser.addDialog(newDialogElement("preexisting"))
	trigger := newTrigger()

	d, _ := newTestDialog(t, browser, nil)
	_, err := d.Open(trigger)

	require.Error(t, err)
	assert.True(t, IsAmbiguousCount(err))
	assert.False(t, wait.IsRetryable(err))
	assert.Equal(t, 0, trigger.clicks, "the trigger must not be clicked")
}

func TestWorkaroundSecondClickOpens(t *testing.T) {
	browser := &fakeBrowser{}
	opened := newDialogElement("dlg")
	trigger := newTrigger()
	trigger.script = []clickStep{
		{}, // first click silently lost
		{do: func() { browser.addDialog(opened) }},
	}

	d, hook := newTestDialog(t, browser, nil)
	element, err := d.Open(trigger)

	require.NoError(t, err)
	assert.Equal(t, ui.Element(opened), element)
	assert.Equal(t, 2, trigger.clicks)
	assert.True(t, logContains(hook, "re-clicking"), "workaround diagnostic must be logged")
}

func TestWorkaroundToleratesNotInteractableClick(t *testing.T) {
	browser := &fakeBrowser{}
	// the dialog does come up from the first click, but only after the
	// first acquisition attempt has already expired
	late := newDialogElement("late")
	trigger := newTrigger()
	trigger.script = []clickStep{
		{do: func() {
			late.appearAt = time.Now().Add(400 * time.Millisecond)
			browser.addDialog(late)
		}},
		{err: errors.New("element not interactable")},
	}

	d, hook := newTestDialog(t, browser, nil)
	element, err := d.Open(trigger)

	require.NoError(t, err)
	assert.Equal(t, ui.Element(late), element)
	assert.True(t, logContains(hook, "not interactable"))
}

func TestAmbiguityTwoDialogsKeepsTheSecond(t *testing.T) {
	browser := &fakeBrowser{}
	first := newDialogElement("first")
	second := newDialogElement("second")
	trigger := newTrigger()
	trigger.script = []clickStep{
		{},
		{do: func() {
			browser.addDialog(first)
			browser.addDialog(second)
		}},
	}

	d, hook := newTestDialog(t, browser, nil)
	element, err := d.Open(trigger)

	require.NoError(t, err)
	assert.Equal(t, ui.Element(second), element)
	assert.Equal(t, 1, first.children[".btn-cancel"].clicks,
		"the first dialog in DOM order must be closed via its cancel control")
	assert.Equal(t, 0, second.children[".btn-cancel"].clicks)
	assert.True(t, logContains(hook, "spurious"))
}

func TestAmbiguityThreeDialogsIsFatal(t *testing.T) {
	browser := &fakeBrowser{}
	trigger := newTrigger()
	trigger.script = []clickStep{
		{},
		{do: func() {
			browser.addDialog(newDialogElement("a"))
			browser.addDialog(newDialogElement("b"))
			browser.addDialog(newDialogElement("c"))
		}},
	}

	d, _ := newTestDialog(t, browser, nil)
	_, err := d.Open(trigger)

	require.Error(t, err)
	assert.True(t, IsAmbiguousCount(err))
	assert.False(t, wait.IsRetryable(err))
	cerr := trace.Unwrap(err).(*AmbiguousCountError)
	assert.Equal(t, 3, cerr.Count)
}

func TestAmbiguityStaleFirstMatchIsReacquired(t *testing.T) {
	browser := &fakeBrowser{}
	replacement := newDialogElement("replacement")
	trigger := newTrigger()
	trigger.script = []clickStep{
		{},
		{do: func() {
			falseMatch := newDialogElement("false-match")
			falseMatch.staleAt = time.Now().Add(80 * time.Millisecond)
			replacement.appearAt = time.Now().Add(100 * time.Millisecond)
			browser.addDialog(falseMatch)
			browser.addDialog(replacement)
		}},
	}

	d, hook := newTestDialog(t, browser, nil)
	element, err := d.Open(trigger)

	require.NoError(t, err)
	assert.Equal(t, ui.Element(replacement), element)
	assert.True(t, logContains(hook, "went stale"))
}

func TestAmbiguityReacquireMissReportsWholeOpenElapsed(t *testing.T) {
	browser := &fakeBrowser{}
	trigger := newTrigger()
	trigger.script = []clickStep{
		{},
		{do: func() {
			falseMatch := newDialogElement("false-match")
			falseMatch.staleAt = time.Now().Add(80 * time.Millisecond)
			browser.addDialog(falseMatch)
		}},
	}

	d, _ := newTestDialog(t, browser, nil)
	started := time.Now()
	_, err := d.Open(trigger)

	require.Error(t, err)
	require.True(t, wait.IsTimeout(err))
	terr := trace.Unwrap(err).(*wait.TimeoutError)
	assert.True(t, terr.Elapsed >= 500*time.Millisecond,
		"elapsed must cover the open from the trigger click, got %v", terr.Elapsed)
	assert.True(t, terr.Elapsed <= time.Since(started))
}

func TestGenericFallbackBindsWithDiagnostic(t *testing.T) {
	browser := &fakeBrowser{}
	generic := newDialogElement("generic")
	browser.generics = []*fakeElement{generic}
	trigger := newTrigger()

	d, hook := newTestDialog(t, browser, nil)
	element, err := d.Open(trigger)

	require.NoError(t, err, "a cosmetic locator bug must not fail the scenario")
	assert.Equal(t, ui.Element(generic), element)
	assert.Equal(t, 2, trigger.clicks, "the workaround click still happens first")
	assert.True(t, logContains(hook, "likely wrong"))
}

func TestOpenTimesOutWhenNothingAppears(t *testing.T) {
	browser := &fakeBrowser{}
	trigger := newTrigger()

	d, _ := newTestDialog(t, browser, nil)
	_, err := d.Open(trigger)

	require.Error(t, err)
	assert.True(t, wait.IsTimeout(err))
	assert.True(t, wait.IsRetryable(err))
	terr := trace.Unwrap(err).(*wait.TimeoutError)
	assert.Equal(t, d, terr.Subject, "the timeout must point back at the dialog")
}

func TestOpenReportsDisabledTrigger(t *testing.T) {
	browser := &fakeBrowser{}
	trigger := newTrigger()
	trigger.enabled = false

	d, _ := newTestDialog(t, browser, nil)
	_, err := d.Open(trigger)

	require.Error(t, err)
	assert.True(t, IsNotEnabled(err))
	assert.True(t, wait.IsRetryable(err))
	assert.Equal(t, 0, trigger.clicks, "a disabled trigger must not be clicked")
	nerr := trace.Unwrap(err).(*NotEnabledError)
	assert.Equal(t, d, nerr.Dialog)
}

func TestOpenedIsIdempotent(t *testing.T) {
	browser := &fakeBrowser{}
	opened := newDialogElement("dlg")
	browser.addDialog(opened)

	d, _ := newTestDialog(t, browser, nil)
	first, err := d.Opened()
	require.NoError(t, err)
	second, err := d.Opened()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, ui.Element(opened), first)
	assert.Equal(t, 0, opened.clicks, "acquisition must not click anything")
}

func TestOpenedTimesOut(t *testing.T) {
	d, _ := newTestDialog(t, &fakeBrowser{}, nil)

	_, err := d.Opened()

	require.Error(t, err)
	assert.True(t, wait.IsTimeout(err))
	terr := trace.Unwrap(err).(*wait.TimeoutError)
	assert.Equal(t, d, terr.Subject)
}

func TestOpenWithNilTriggerOnlyAcquires(t *testing.T) {
	browser := &fakeBrowser{}
	opened := newDialogElement("dlg")
	browser.addDialog(opened)

	d, _ := newTestDialog(t, browser, nil)
	element, err := d.Open(nil)

	require.NoError(t, err)
	assert.Equal(t, ui.Element(opened), element)
}

func TestCloseValidateDisabledControl(t *testing.T) {
	browser := &fakeBrowser{}
	opened := newDialogElement("dlg")
	opened.children[".btn-ok"].enabled = false
	browser.addDialog(opened)

	d, _ := newTestDialog(t, browser, nil)
	err := d.Close(true)

	require.Error(t, err)
	assert.True(t, IsNotEnabled(err))
	nerr := trace.Unwrap(err).(*NotEnabledError)
	assert.Equal(t, d, nerr.Dialog, "the error must carry the dialog for caller-side cancellation")
	assert.Equal(t, 0, opened.children[".btn-ok"].clicks, "a disabled control must not be clicked")
	displayed, _ := opened.IsDisplayed(false)
	assert.True(t, displayed, "the dialog must be left untouched")
}

func TestCloseCancel(t *testing.T) {
	browser := &fakeBrowser{}
	opened := newDialogElement("dlg")
	opened.children[".btn-cancel"].onClick = func() { opened.visible = false }
	browser.addDialog(opened)

	d, _ := newTestDialog(t, browser, nil)
	err := d.Close(false)

	require.NoError(t, err)
	assert.Equal(t, 1, opened.children[".btn-cancel"].clicks)
	assert.Nil(t, d.Element(), "the bound slot must be cleared after closing")
}

func TestCloseValidate(t *testing.T) {
	browser := &fakeBrowser{}
	opened := newDialogElement("dlg")
	opened.children[".btn-ok"].onClick = func() { opened.visible = false }
	browser.addDialog(opened)

	d, _ := newTestDialog(t, browser, nil)
	err := d.Close(true)

	require.NoError(t, err)
	assert.Equal(t, 1, opened.children[".btn-ok"].clicks)
	assert.Equal(t, 0, opened.children[".btn-cancel"].clicks)
}

func TestPurgeRetriesTheOpenOnce(t *testing.T) {
	browser := &fakeBrowser{}
	trigger := newTrigger()
	trigger.onClick = func() {
		browser.addDialog(newDialogElement("dlg"))
	}
	// the first purge takes the freshly opened dialog down with it
	browser.purgeQueue = []purgeStep{
		{count: 1, do: func() {
			for _, element := range browser.dialogs {
				element.visible = false
			}
			browser.dialogs = nil
		}},
		{count: 0},
	}

	d, hook := newTestDialog(t, browser, func(config *Config) {
		config.PurgeAlerts = true
	})
	element, err := d.Open(trigger)

	require.NoError(t, err)
	require.NotNil(t, element)
	assert.Equal(t, 2, browser.purgeCalls)
	assert.Equal(t, 2, trigger.clicks)
	assert.True(t, logContains(hook, "retrying the open"))
}

func TestExtraLoadConditionIsAwaited(t *testing.T) {
	browser := &fakeBrowser{}
	opened := newDialogElement("dlg")
	trigger := newTrigger()
	trigger.onClick = func() { browser.addDialog(opened) }

	loaded := make(chan struct{})
	time.AfterFunc(50*time.Millisecond, func() { close(loaded) })
	extra := wait.Condition{
		Description: "content is loaded",
		Check: func() (bool, error) {
			select {
			case <-loaded:
				return true, nil
			default:
				return false, nil
			}
		},
	}

	d, _ := newTestDialog(t, browser, func(config *Config) {
		config.ExtraLoad = &extra
	})
	element, err := d.Open(trigger)

	require.NoError(t, err)
	assert.Equal(t, ui.Element(opened), element)
	select {
	case <-loaded:
	default:
		t.Error("open returned before the extra load condition held")
	}
}
