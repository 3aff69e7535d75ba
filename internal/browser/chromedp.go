package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// ChromeOptions configures the chromedp runtime.
type ChromeOptions struct {
	Headless bool
	// ExecPath overrides the browser binary; empty uses chromedp's lookup.
	ExecPath string
}

// ChromeRuntime drives one headless Chrome process through chromedp. Each
// page is an isolated chromedp tab context.
type ChromeRuntime struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	// probe keeps the browser process alive between pages.
	probeCtx    context.Context
	probeCancel context.CancelFunc
}

// NewChromeRuntime launches the browser process. A launch failure here is
// the one fatal fault in the pipeline; everything downstream resolves to
// data values instead.
func NewChromeRuntime(ctx context.Context, opts ChromeOptions) (*ChromeRuntime, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)

	// First tab both verifies the launch and pins the process for the
	// lifetime of the runtime.
	probeCtx, probeCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(probeCtx); err != nil {
		probeCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	return &ChromeRuntime{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		probeCtx:    probeCtx,
		probeCancel: probeCancel,
	}, nil
}

// NewPage opens an isolated tab. The close function destroys only the tab.
func (r *ChromeRuntime) NewPage(_ context.Context) (Page, func(), error) {
	tabCtx, tabCancel := chromedp.NewContext(r.probeCtx)
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		tabCancel()
		return nil, nil, fmt.Errorf("open tab: %w", err)
	}

	p := &chromePage{ctx: tabCtx}
	p.listen()
	return p, tabCancel, nil
}

// Close tears down the browser process.
func (r *ChromeRuntime) Close() error {
	r.probeCancel()
	r.allocCancel()
	return nil
}

type chromePage struct {
	ctx context.Context

	mu       sync.Mutex
	sink     EventSink
	requests map[network.RequestID]string // request id -> method
}

// listen registers the single chromedp target listener for this tab.
// chromedp offers no unsubscribe, so detach swaps the sink to nil instead.
func (p *chromePage) listen() {
	p.requests = make(map[network.RequestID]string)
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *cdpruntime.EventConsoleAPICalled:
			p.emitConsole(string(e.Type), consoleText(e.Args))
		case *cdpruntime.EventExceptionThrown:
			text := ""
			if e.ExceptionDetails != nil {
				text = e.ExceptionDetails.Text
			}
			p.emitConsole("error", text)
		case *network.EventRequestWillBeSent:
			p.mu.Lock()
			p.requests[e.RequestID] = e.Request.Method
			p.mu.Unlock()
		case *network.EventResponseReceived:
			p.mu.Lock()
			method := p.requests[e.RequestID]
			delete(p.requests, e.RequestID)
			sink := p.sink
			p.mu.Unlock()
			if sink != nil {
				sink.OnResponse(ResponseEvent{
					Method: method,
					URL:    e.Response.URL,
					Status: int(e.Response.Status),
				})
			}
		case *page.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" {
				p.mu.Lock()
				sink := p.sink
				p.mu.Unlock()
				if sink != nil {
					sink.OnNavigate(e.Frame.URL)
				}
			}
		}
	})
}

func (p *chromePage) emitConsole(kind, text string) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink.OnConsole(ConsoleMessage{Type: kind, Text: text, At: time.Now()})
	}
}

func consoleText(args []*cdpruntime.RemoteObject) string {
	var parts []string
	for _, a := range args {
		if a == nil {
			continue
		}
		if len(a.Value) > 0 {
			var v interface{}
			if err := json.Unmarshal(a.Value, &v); err == nil {
				parts = append(parts, fmt.Sprintf("%v", v))
				continue
			}
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

func (p *chromePage) AttachSink(sink EventSink) func() {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.sink = nil
		p.mu.Unlock()
	}
}

// run executes actions with a deadline and maps context expiry onto the
// package sentinels. selectorOp marks operations whose timeout means the
// element never appeared rather than the page being slow.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, selectorOp bool, actions ...chromedp.Action) error {
	runCtx := p.ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return ctx.Err()
	}

	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if selectorOp {
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := p.run(ctx, timeout, false, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *chromePage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.run(ctx, timeout, true, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

func (p *chromePage) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	actions := []chromedp.Action{
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, value, chromedp.ByQuery),
	}
	if err := p.run(ctx, timeout, true, actions...); err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	return nil
}

func (p *chromePage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.run(ctx, timeout, true, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

func (p *chromePage) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.run(ctx, 10*time.Second, false, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write screenshot %s: %w", path, err)
	}
	return nil
}

// pageStateJS snapshots the fixed signal set the outcome evaluator reads.
// Keys match the PageState json tags so chromedp can unmarshal directly.
const pageStateJS = `(() => {
	const fields = Array.from(document.querySelectorAll('input, textarea, select'));
	const filled = fields.filter(el => ((el.value || '') + '').trim().length > 0).length;
	const form = document.querySelector('form');
	const els = form ? Array.from(form.elements || []) : [];
	const disabled = els.length > 0 && els.every(el => el.disabled);
	const textOf = sel => Array.from(document.querySelectorAll(sel))
		.map(el => el.innerText || '').join(' ').trim();
	return {
		url: window.location.href,
		filled_fields: filled,
		form_present: !!form,
		form_disabled: disabled,
		alert_text: textOf('[role="alert"], .alert, .error-message'),
		live_region_text: textOf('[aria-live], [role="status"]'),
		aria_invalid: document.querySelectorAll('[aria-invalid="true"]').length,
	};
})()`

func (p *chromePage) CaptureState(ctx context.Context) (PageState, error) {
	var st PageState
	if err := p.run(ctx, 10*time.Second, false, chromedp.Evaluate(pageStateJS, &st)); err != nil {
		return PageState{}, fmt.Errorf("capture page state: %w", err)
	}
	return st, nil
}

func (p *chromePage) IsVisible(ctx context.Context, selector string) (bool, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return false, fmt.Errorf("encode selector: %w", err)
	}
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		const r = el.getBoundingClientRect();
		const st = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';
	})()`, sel)

	var visible bool
	if err := p.run(ctx, 5*time.Second, false, chromedp.Evaluate(js, &visible)); err != nil {
		return false, fmt.Errorf("check visibility of %q: %w", selector, err)
	}
	return visible, nil
}

func (p *chromePage) BodyText(ctx context.Context) (string, error) {
	var text string
	err := p.run(ctx, 5*time.Second, false,
		chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &text))
	if err != nil {
		return "", fmt.Errorf("read body text: %w", err)
	}
	return text, nil
}

func (p *chromePage) Lang(ctx context.Context) (string, error) {
	var lang string
	err := p.run(ctx, 5*time.Second, false,
		chromedp.Evaluate(`document.documentElement.getAttribute('lang') || ''`, &lang))
	if err != nil {
		return "", fmt.Errorf("read lang attribute: %w", err)
	}
	return lang, nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, 5*time.Second, false, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}
