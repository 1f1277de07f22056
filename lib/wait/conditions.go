package wait

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/steadfastui/steadfast/lib/ui"

	"github.com/gravitational/trace"
	"github.com/kr/pretty"
)

// Displayed returns a condition that holds while el is visible. A stale
// or removed element counts as not displayed rather than an error, so
// the condition can be used to wait for an element to leave the screen.
func Displayed(el ui.Element, recheck bool) Condition {
	return Condition{
		Description: "element is displayed",
		Check: func() (bool, error) {
			if el == nil {
				return false, trace.NotImplemented("displayed condition requires a bound element")
			}
			displayed, err := el.IsDisplayed(recheck)
			if err != nil {
				if ui.IsStale(err) {
					return false, nil
				}
				return false, trace.Wrap(err)
			}
			return displayed, nil
		},
	}
}

// Enabled returns a condition that holds while el accepts interaction
func Enabled(el ui.Element) Condition {
	return Condition{
		Description: "element is enabled",
		Check: func() (bool, error) {
			if el == nil {
				return false, trace.NotImplemented("enabled condition requires a bound element")
			}
			enabled, err := el.IsEnabled()
			if err != nil {
				return false, trace.Wrap(err)
			}
			return enabled, nil
		},
	}
}

// Stale returns a condition that holds once el no longer refers to a
// live DOM node
func Stale(el ui.Element) Condition {
	return Condition{
		Description: "element is stale",
		Check: func() (bool, error) {
			if el == nil {
				return false, trace.NotImplemented("staleness condition requires a bound element")
			}
			_, err := el.IsDisplayed(true)
			if err != nil {
				if ui.IsStale(err) {
					return true, nil
				}
				return false, trace.Wrap(err)
			}
			return false, nil
		},
	}
}

// Not inverts cond, keeping its diagnostics
func Not(cond Condition) Condition {
	return Condition{
		Description: fmt.Sprintf("not (%v)", cond.Description),
		Check: func() (bool, error) {
			ok, err := cond.Check()
			if err != nil {
				return false, trace.Wrap(err)
			}
			return !ok, nil
		},
		Diagnose: cond.Diagnose,
	}
}

// TextEquals returns a condition that holds while the element text is
// exactly expected
func TextEquals(el ui.Element, expected string) Condition {
	return textCondition(el, fmt.Sprintf("text equals %q", expected),
		func(text string) bool { return text == expected })
}

// TextHasPrefix returns a condition that holds while the element text
// starts with prefix
func TextHasPrefix(el ui.Element, prefix string) Condition {
	return textCondition(el, fmt.Sprintf("text starts with %q", prefix),
		func(text string) bool { return strings.HasPrefix(text, prefix) })
}

// TextHasSuffix returns a condition that holds while the element text
// ends with suffix
func TextHasSuffix(el ui.Element, suffix string) Condition {
	return textCondition(el, fmt.Sprintf("text ends with %q", suffix),
		func(text string) bool { return strings.HasSuffix(text, suffix) })
}

// TextContains returns a condition that holds while the element text
// contains substr
func TextContains(el ui.Element, substr string) Condition {
	return textCondition(el, fmt.Sprintf("text contains %q", substr),
		func(text string) bool { return strings.Contains(text, substr) })
}

// TextMatches returns a condition that holds while the element text
// matches re
func TextMatches(el ui.Element, re *regexp.Regexp) Condition {
	return textCondition(el, fmt.Sprintf("text matches %v", re),
		func(text string) bool { return re.MatchString(text) })
}

// TextJSONEqual returns a condition that holds while the element text
// and expected deserialize to structurally equal values. Formatting
// differences (whitespace, key order) do not matter. On expiry the
// diagnostic carries a field-by-field diff.
func TextJSONEqual(el ui.Element, expected string) Condition {
	var want interface{}
	wantErr := json.Unmarshal([]byte(expected), &want)
	var lastText string
	cond := textCondition(el, "text is structurally equal to expected document",
		func(text string) bool {
			lastText = text
			var got interface{}
			if err := json.Unmarshal([]byte(text), &got); err != nil {
				return false
			}
			return reflect.DeepEqual(want, got)
		})
	check := cond.Check
	cond.Check = func() (bool, error) {
		if wantErr != nil {
			return false, trace.BadParameter("expected document does not parse: %v", wantErr)
		}
		return check()
	}
	cond.Diagnose = func() string {
		var got interface{}
		if err := json.Unmarshal([]byte(lastText), &got); err != nil {
			return fmt.Sprintf("last observed text %q does not parse: %v", lastText, err)
		}
		return fmt.Sprintf("documents differ: %v",
			strings.Join(pretty.Diff(want, got), "; "))
	}
	return cond
}

// AttributeContains returns a condition that holds while the named
// attribute of el contains substr
func AttributeContains(el ui.Element, name, substr string) Condition {
	var last string
	return Condition{
		Description: fmt.Sprintf("attribute %q contains %q", name, substr),
		Check: func() (bool, error) {
			if el == nil {
				return false, trace.NotImplemented("attribute condition requires a bound element")
			}
			value, err := el.Attribute(name)
			if err != nil {
				if ui.IsStale(err) {
					return false, nil
				}
				return false, trace.Wrap(err)
			}
			last = value
			return strings.Contains(value, substr), nil
		},
		Diagnose: func() string {
			return fmt.Sprintf("last observed %v value %q", name, last)
		},
	}
}

// textCondition builds a condition over the element text; the shared
// wait loop lives in Timeout, specializations only differ in the match
func textCondition(el ui.Element, label string, match func(string) bool) Condition {
	var last string
	return Condition{
		Description: label,
		Check: func() (bool, error) {
			if el == nil {
				return false, trace.NotImplemented("text condition requires a bound element")
			}
			text, err := el.Text(true)
			if err != nil {
				if ui.IsStale(err) {
					return false, nil
				}
				return false, trace.Wrap(err)
			}
			last = text
			return match(text), nil
		},
		Diagnose: func() string {
			return fmt.Sprintf("last observed text %q", last)
		},
	}
}
