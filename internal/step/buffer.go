package step

import (
	"strings"
	"sync"

	"github.com/lucasnoah/vigil/internal/browser"
)

// defaultBufferCap bounds how many console messages one attempt retains.
const defaultBufferCap = 256

// EventBuffer is the bounded event capture for one attempt. The executor
// opens it before the first step and drains and closes it on every exit
// path; the browser driver feeds it through the browser.EventSink interface.
type EventBuffer struct {
	mu          sync.Mutex
	capacity    int
	console     []browser.ConsoleMessage
	dropped     int
	responses   []browser.ResponseEvent
	navigations []string
	closed      bool
}

// NewEventBuffer creates a buffer retaining up to capacity console messages.
// capacity <= 0 uses the default.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = defaultBufferCap
	}
	return &EventBuffer{capacity: capacity}
}

// OnConsole records a console message, dropping the oldest once full.
func (b *EventBuffer) OnConsole(msg browser.ConsoleMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if len(b.console) >= b.capacity {
		b.console = b.console[1:]
		b.dropped++
	}
	b.console = append(b.console, msg)
}

// OnResponse records a network response.
func (b *EventBuffer) OnResponse(ev browser.ResponseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.responses = append(b.responses, ev)
}

// OnNavigate records a main-frame navigation.
func (b *EventBuffer) OnNavigate(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.navigations = append(b.navigations, url)
}

// Mark captures the current buffer position so events during one action can
// be isolated later.
type Mark struct {
	console     int
	responses   int
	navigations int
}

// Mark returns the current position.
func (b *EventBuffer) Mark() Mark {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Mark{
		console:     b.dropped + len(b.console),
		responses:   len(b.responses),
		navigations: len(b.navigations),
	}
}

// ResponsesSince returns the network responses recorded after mark.
func (b *EventBuffer) ResponsesSince(m Mark) []browser.ResponseEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m.responses >= len(b.responses) {
		return nil
	}
	out := make([]browser.ResponseEvent, len(b.responses)-m.responses)
	copy(out, b.responses[m.responses:])
	return out
}

// NavigatedSince reports whether a main-frame navigation happened after mark.
func (b *EventBuffer) NavigatedSince(m Mark) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.navigations) > m.navigations
}

// ConsoleErrorsSince counts error-class console messages after mark.
// Messages dropped by the bound are counted conservatively as not errors.
func (b *EventBuffer) ConsoleErrorsSince(m Mark) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := m.console - b.dropped
	if start < 0 {
		start = 0
	}
	n := 0
	for _, msg := range b.console[start:] {
		if isErrorMessage(msg) {
			n++
		}
	}
	return n
}

// ConsoleErrors counts error-class messages over the whole attempt.
func (b *EventBuffer) ConsoleErrors() int {
	return b.ConsoleErrorsSince(Mark{console: 0})
}

// Console returns a copy of the retained console messages.
func (b *EventBuffer) Console() []browser.ConsoleMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]browser.ConsoleMessage, len(b.console))
	copy(out, b.console)
	return out
}

// Dropped returns how many console messages the bound discarded.
func (b *EventBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close stops recording. Further sink calls are ignored; reads stay valid.
func (b *EventBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func isErrorMessage(msg browser.ConsoleMessage) bool {
	return strings.EqualFold(msg.Type, "error") || strings.EqualFold(msg.Type, "assert")
}
