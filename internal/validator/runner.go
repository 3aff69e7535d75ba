// Package validator executes declarative post-condition checks against the
// final page state of an attempt. Validator failures are soft: they are
// recorded beside an otherwise successful step sequence and never abort the
// attempt or sibling checks.
package validator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lucasnoah/vigil/internal/journey"
)

// Inspector is the read-only view of the final page state the checks need.
// The browser page satisfies it; tests supply fakes.
type Inspector interface {
	IsVisible(ctx context.Context, selector string) (bool, error)
	BodyText(ctx context.Context) (string, error)
	Lang(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
}

// Runner executes validators against one final page state.
type Runner struct {
	inspector     Inspector
	consoleErrors int
}

// NewRunner creates a Runner over the given inspector. consoleErrors is the
// number of console errors captured during the attempt, consumed by
// ConsoleCleanCheck.
func NewRunner(inspector Inspector, consoleErrors int) *Runner {
	return &Runner{inspector: inspector, consoleErrors: consoleErrors}
}

// RunAll executes every validator independently and returns one result per
// check, in input order. A failing check never aborts the rest; an inspector
// error yields a FAIL result for that check only.
func (r *Runner) RunAll(ctx context.Context, checks []journey.Validator) []journey.ValidatorResult {
	results := make([]journey.ValidatorResult, 0, len(checks))
	for _, c := range checks {
		results = append(results, r.run(ctx, c))
	}
	return results
}

func (r *Runner) run(ctx context.Context, check journey.Validator) journey.ValidatorResult {
	switch c := check.(type) {
	case journey.ElementVisibleCheck:
		return r.elementVisible(ctx, c)
	case journey.PageTextCheck:
		return r.pageText(ctx, c)
	case journey.HTMLLangCheck:
		return r.htmlLang(ctx, c)
	case journey.URLCheck:
		return r.urlCheck(ctx, c)
	case journey.ConsoleCleanCheck:
		return r.consoleClean(c)
	default:
		// The validator union is closed; a new kind must be handled above.
		return journey.ValidatorResult{
			ID:      check.ValidatorID(),
			Type:    fmt.Sprintf("%T", check),
			Status:  journey.ValidatorFail,
			Message: "unhandled validator kind",
		}
	}
}

func failStatus(warnOnly bool) journey.ValidatorStatus {
	if warnOnly {
		return journey.ValidatorWarn
	}
	return journey.ValidatorFail
}

func (r *Runner) elementVisible(ctx context.Context, c journey.ElementVisibleCheck) journey.ValidatorResult {
	res := journey.ValidatorResult{ID: c.ID, Type: "element_visible"}
	if c.WantAbsent {
		res.Type = "element_not_visible"
	}

	visible, err := r.inspector.IsVisible(ctx, c.Selector)
	if err != nil {
		res.Status = failStatus(c.WarnOnly)
		res.Message = fmt.Sprintf("inspect %q: %v", c.Selector, err)
		return res
	}

	ok := visible != c.WantAbsent
	res.Evidence = fmt.Sprintf("selector %q visible=%t", c.Selector, visible)
	if ok {
		res.Status = journey.ValidatorPass
		res.Message = "element state matches"
	} else {
		res.Status = failStatus(c.WarnOnly)
		if c.WantAbsent {
			res.Message = fmt.Sprintf("element %q is visible but should be absent", c.Selector)
		} else {
			res.Message = fmt.Sprintf("element %q is not visible", c.Selector)
		}
	}
	return res
}

func (r *Runner) pageText(ctx context.Context, c journey.PageTextCheck) journey.ValidatorResult {
	res := journey.ValidatorResult{ID: c.ID, Type: "page_contains_any_text"}
	body, err := r.inspector.BodyText(ctx)
	if err != nil {
		res.Status = failStatus(c.WarnOnly)
		res.Message = fmt.Sprintf("read body text: %v", err)
		return res
	}

	lower := strings.ToLower(body)
	for _, want := range c.AnyOf {
		if strings.Contains(lower, strings.ToLower(want)) {
			res.Status = journey.ValidatorPass
			res.Message = fmt.Sprintf("found %q", want)
			return res
		}
	}
	res.Status = failStatus(c.WarnOnly)
	res.Message = fmt.Sprintf("none of %d expected fragments found", len(c.AnyOf))
	return res
}

func (r *Runner) htmlLang(ctx context.Context, c journey.HTMLLangCheck) journey.ValidatorResult {
	res := journey.ValidatorResult{ID: c.ID, Type: "html_lang_attribute"}
	lang, err := r.inspector.Lang(ctx)
	if err != nil {
		res.Status = failStatus(c.WarnOnly)
		res.Message = fmt.Sprintf("read lang attribute: %v", err)
		return res
	}

	res.Evidence = fmt.Sprintf("lang=%q", lang)
	if c.Want == "" {
		// Without an expected value, any non-empty lang passes.
		if lang != "" {
			res.Status = journey.ValidatorPass
			res.Message = "document declares a lang attribute"
		} else {
			res.Status = failStatus(c.WarnOnly)
			res.Message = "document has no lang attribute"
		}
		return res
	}

	if strings.EqualFold(lang, c.Want) || strings.HasPrefix(strings.ToLower(lang), strings.ToLower(c.Want)+"-") {
		res.Status = journey.ValidatorPass
		res.Message = fmt.Sprintf("lang is %q", lang)
	} else {
		res.Status = failStatus(c.WarnOnly)
		res.Message = fmt.Sprintf("lang is %q, want %q", lang, c.Want)
	}
	return res
}

func (r *Runner) urlCheck(ctx context.Context, c journey.URLCheck) journey.ValidatorResult {
	res := journey.ValidatorResult{ID: c.ID, Type: "url_includes"}
	if c.Pattern != "" {
		res.Type = "url_matches"
	}

	current, err := r.inspector.URL(ctx)
	if err != nil {
		res.Status = failStatus(c.WarnOnly)
		res.Message = fmt.Sprintf("read url: %v", err)
		return res
	}
	res.Evidence = fmt.Sprintf("url=%q", current)

	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			res.Status = failStatus(c.WarnOnly)
			res.Message = fmt.Sprintf("invalid pattern %q: %v", c.Pattern, err)
			return res
		}
		if re.MatchString(current) {
			res.Status = journey.ValidatorPass
			res.Message = fmt.Sprintf("url matches %q", c.Pattern)
		} else {
			res.Status = failStatus(c.WarnOnly)
			res.Message = fmt.Sprintf("url does not match %q", c.Pattern)
		}
		return res
	}

	if strings.Contains(current, c.Includes) {
		res.Status = journey.ValidatorPass
		res.Message = fmt.Sprintf("url includes %q", c.Includes)
	} else {
		res.Status = failStatus(c.WarnOnly)
		res.Message = fmt.Sprintf("url does not include %q", c.Includes)
	}
	return res
}

func (r *Runner) consoleClean(c journey.ConsoleCleanCheck) journey.ValidatorResult {
	res := journey.ValidatorResult{ID: c.ID, Type: "console_clean"}
	res.Evidence = fmt.Sprintf("console_errors=%d", r.consoleErrors)
	if r.consoleErrors == 0 {
		res.Status = journey.ValidatorPass
		res.Message = "no console errors captured"
	} else {
		res.Status = failStatus(c.WarnOnly)
		res.Message = fmt.Sprintf("%d console error(s) captured", r.consoleErrors)
	}
	return res
}
