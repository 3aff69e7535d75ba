// Package outcome classifies a single user action as success, friction, or
// failure from before/after page state plus the events captured while the
// action ran. The decision table is fixed and empirically tuned; its tiers
// are preserved exactly rather than simplified.
package outcome

import (
	"fmt"
)

// PageState captures the observable page condition immediately before or
// after one user action.
type PageState struct {
	URL           string `json:"url"`
	FilledFields  int    `json:"filled_fields"`
	FormPresent   bool   `json:"form_present"`
	FormDisabled  bool   `json:"form_disabled"`
	AlertText     string `json:"alert_text"`
	LiveRegionText string `json:"live_region_text"`
	AriaInvalid   int    `json:"aria_invalid"`
}

// ResponseEvent is one network response observed during the action.
type ResponseEvent struct {
	Method     string `json:"method"`
	URL        string `json:"url"`
	Status     int    `json:"status"`
	SameOrigin bool   `json:"same_origin"`
}

// Events holds everything observed while the action ran.
type Events struct {
	Responses     []ResponseEvent `json:"responses,omitempty"`
	ConsoleErrors int             `json:"console_errors"`
	URLChanged    bool            `json:"url_changed"`
}

// Status is the classification of one user action.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFriction Status = "friction"
	StatusFailure  Status = "failure"
)

// Confidence tiers for the classification.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Evidence records which signal classes fired, for auditability.
type Evidence struct {
	NetworkPositive    bool `json:"network_positive"`
	NavigationPositive bool `json:"navigation_positive"`
	DOMPositive        bool `json:"dom_positive"`
	Negative           bool `json:"negative"`
}

// Result is the classification of one user action.
type Result struct {
	Status     Status     `json:"status"`
	Confidence Confidence `json:"confidence"`
	Reasons    []string   `json:"reasons"`
	Evidence   Evidence   `json:"evidence"`
}

// Evaluate classifies one user action. It is pure: identical inputs always
// produce identical results.
//
// Signal classes:
//   - network-positive: a same-origin POST/PUT received a 2xx or redirect.
//   - navigation-positive: the URL changed.
//   - DOM-positive: the relevant form disappeared, was disabled, was cleared,
//     or a live region's text grew.
//   - negative: aria-invalid count increased, alert-region text grew, or a
//     console error occurred after the action.
//
// Decision order (tie-breaks matter):
//  1. network-positive AND (navigation OR DOM positive) AND no negative
//     -> success, high confidence.
//  2. any positive coexisting with a negative -> friction.
//  3. exactly one positive, no negative -> success, medium confidence.
//  4. otherwise failure: medium confidence when a negative fired, else low.
func Evaluate(before, after PageState, events Events) Result {
	ev := Evidence{
		NetworkPositive:    networkPositive(events),
		NavigationPositive: events.URLChanged || before.URL != after.URL,
		DOMPositive:        domPositive(before, after),
		Negative:           negative(before, after, events),
	}

	var reasons []string
	if ev.NetworkPositive {
		reasons = append(reasons, "same-origin mutation request succeeded")
	}
	if ev.NavigationPositive {
		reasons = append(reasons, "url changed after action")
	}
	if ev.DOMPositive {
		reasons = append(reasons, "form state or live region indicates completion")
	}
	if ev.Negative {
		reasons = append(reasons, negativeReason(before, after, events))
	}

	positives := 0
	for _, p := range []bool{ev.NetworkPositive, ev.NavigationPositive, ev.DOMPositive} {
		if p {
			positives++
		}
	}

	switch {
	case ev.NetworkPositive && (ev.NavigationPositive || ev.DOMPositive) && !ev.Negative:
		return Result{Status: StatusSuccess, Confidence: ConfidenceHigh, Reasons: reasons, Evidence: ev}
	case positives > 0 && ev.Negative:
		return Result{Status: StatusFriction, Confidence: ConfidenceMedium, Reasons: reasons, Evidence: ev}
	case positives == 1 && !ev.Negative:
		return Result{Status: StatusSuccess, Confidence: ConfidenceMedium, Reasons: reasons, Evidence: ev}
	case ev.Negative:
		if len(reasons) == 0 {
			reasons = append(reasons, "negative signal with no completion evidence")
		}
		return Result{Status: StatusFailure, Confidence: ConfidenceMedium, Reasons: reasons, Evidence: ev}
	default:
		if len(reasons) == 0 {
			reasons = append(reasons, "no completion signal observed")
		}
		return Result{Status: StatusFailure, Confidence: ConfidenceLow, Reasons: reasons, Evidence: ev}
	}
}

func networkPositive(events Events) bool {
	for _, r := range events.Responses {
		if !r.SameOrigin {
			continue
		}
		if r.Method != "POST" && r.Method != "PUT" {
			continue
		}
		if (r.Status >= 200 && r.Status < 300) || (r.Status >= 300 && r.Status < 400) {
			return true
		}
	}
	return false
}

func domPositive(before, after PageState) bool {
	// Form disappeared or was disabled.
	if before.FormPresent && (!after.FormPresent || after.FormDisabled) {
		return true
	}
	// Form was cleared.
	if before.FilledFields > 0 && after.FilledFields == 0 {
		return true
	}
	// Live region text grew.
	return len(after.LiveRegionText) > len(before.LiveRegionText)
}

func negative(before, after PageState, events Events) bool {
	if after.AriaInvalid > before.AriaInvalid {
		return true
	}
	if len(after.AlertText) > len(before.AlertText) {
		return true
	}
	return events.ConsoleErrors > 0
}

func negativeReason(before, after PageState, events Events) string {
	switch {
	case after.AriaInvalid > before.AriaInvalid:
		return fmt.Sprintf("aria-invalid count increased from %d to %d", before.AriaInvalid, after.AriaInvalid)
	case len(after.AlertText) > len(before.AlertText):
		return "alert region text grew after action"
	default:
		return fmt.Sprintf("%d console error(s) during action", events.ConsoleErrors)
	}
}
