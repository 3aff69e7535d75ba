// Package browser wraps the browser-automation capability behind small
// interfaces so the engine and the step executor never touch a concrete
// driver. The chromedp adapter is the production implementation; tests run
// against fakes.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that no element matched a selector before the
// operation gave up.
var ErrNotFound = errors.New("element not found")

// ErrTimeout reports that a page operation exceeded its deadline.
var ErrTimeout = errors.New("operation timed out")

// ErrUnavailable reports that the browser runtime is not running.
var ErrUnavailable = errors.New("browser runtime unavailable")

// ConsoleMessage is one console API call or page exception.
type ConsoleMessage struct {
	Type string    `json:"type"` // log, warning, error
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// ResponseEvent is one network response observed on a page.
type ResponseEvent struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Status int    `json:"status"`
}

// EventSink receives page events while attached. Implementations must be
// safe for concurrent calls; the driver may deliver events from its own
// goroutine.
type EventSink interface {
	OnConsole(msg ConsoleMessage)
	OnResponse(ev ResponseEvent)
	OnNavigate(url string)
}

// Page is one isolated browser execution context. Any operation may fail
// with a timeout or not-found error; both unwrap to the sentinels above.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	Screenshot(ctx context.Context, path string) error

	// AttachSink routes page events into sink until the returned detach
	// function runs. At most one sink is attached at a time.
	AttachSink(sink EventSink) (detach func())

	// CaptureState snapshots the signal fields the outcome evaluator reads.
	CaptureState(ctx context.Context) (PageState, error)

	// Final-state inspection for validators.
	IsVisible(ctx context.Context, selector string) (bool, error)
	BodyText(ctx context.Context) (string, error)
	Lang(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
}

// PageState mirrors the observable fields the outcome evaluator consumes.
type PageState struct {
	URL            string `json:"url"`
	FilledFields   int    `json:"filled_fields"`
	FormPresent    bool   `json:"form_present"`
	FormDisabled   bool   `json:"form_disabled"`
	AlertText      string `json:"alert_text"`
	LiveRegionText string `json:"live_region_text"`
	AriaInvalid    int    `json:"aria_invalid"`
}

// Runtime owns one browser process and vends isolated pages. It persists
// for a whole run and is torn down once at the end.
type Runtime interface {
	// NewPage opens an isolated execution context. The returned close
	// function destroys only that context, never the runtime.
	NewPage(ctx context.Context) (Page, func(), error)
	Close() error
}
