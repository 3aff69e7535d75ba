package browser

import (
	"context"
	"fmt"
	"sync"
)

// Pool bounds concurrent page contexts over one runtime. Workers acquire an
// isolated page before an attempt and release it immediately after, success
// or failure; the runtime itself outlives every acquisition.
type Pool struct {
	runtime Runtime
	slots   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool allowing up to size concurrent pages.
func NewPool(runtime Runtime, size int) (*Pool, error) {
	if runtime == nil {
		return nil, ErrUnavailable
	}
	if size < 1 {
		return nil, fmt.Errorf("pool size %d: must be at least 1", size)
	}
	return &Pool{runtime: runtime, slots: make(chan struct{}, size)}, nil
}

// Acquire blocks until a slot frees up, then opens a fresh page context.
// The release function closes the context and frees the slot; it is safe to
// call exactly once on every exit path.
func (p *Pool) Acquire(ctx context.Context) (Page, func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, ErrUnavailable
	}
	p.mu.Unlock()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	page, closePage, err := p.runtime.NewPage(ctx)
	if err != nil {
		<-p.slots
		return nil, nil, fmt.Errorf("open page context: %w", err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			closePage()
			<-p.slots
		})
	}
	return page, release, nil
}

// Close tears down the runtime. In-flight pages should be released first;
// Close does not wait for them.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.runtime.Close()
}
