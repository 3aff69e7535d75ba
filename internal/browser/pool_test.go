package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeRuntime counts open pages so tests can assert the bound.
type fakeRuntime struct {
	mu       sync.Mutex
	open     int
	maxOpen  int
	failNext bool
	closed   bool
}

func (f *fakeRuntime) NewPage(context.Context) (Page, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, nil, errors.New("tab crashed")
	}
	f.open++
	if f.open > f.maxOpen {
		f.maxOpen = f.open
	}
	closeFn := func() {
		f.mu.Lock()
		f.open--
		f.mu.Unlock()
	}
	return nil, closeFn, nil
}

func (f *fakeRuntime) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestPool_BoundsConcurrentPages(t *testing.T) {
	rt := &fakeRuntime{}
	pool, err := NewPool(rt, 2)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release, err := pool.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			time.Sleep(5 * time.Millisecond)
			release()
		}()
	}
	wg.Wait()

	if rt.maxOpen > 2 {
		t.Errorf("max concurrent pages = %d, want <= 2", rt.maxOpen)
	}
	if rt.open != 0 {
		t.Errorf("open pages after release = %d, want 0", rt.open)
	}
}

func TestPool_ReleaseIsIdempotent(t *testing.T) {
	rt := &fakeRuntime{}
	pool, err := NewPool(rt, 1)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	_, release, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
	release() // second call must be a no-op

	// Slot must be free again.
	_, release2, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	release2()
}

func TestPool_PageFailureFreesSlot(t *testing.T) {
	rt := &fakeRuntime{failNext: true}
	pool, err := NewPool(rt, 1)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	if _, _, err := pool.Acquire(context.Background()); err == nil {
		t.Fatal("expected page open failure")
	}

	// The failed acquisition must not leak the slot.
	done := make(chan struct{})
	go func() {
		_, release, err := pool.Acquire(context.Background())
		if err == nil {
			release()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("slot leaked by failed acquisition")
	}
}

func TestPool_AcquireRespectsContext(t *testing.T) {
	rt := &fakeRuntime{}
	pool, err := NewPool(rt, 1)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	_, release, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, _, err := pool.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestPool_CloseTearsDownRuntimeOnce(t *testing.T) {
	rt := &fakeRuntime{}
	pool, err := NewPool(rt, 1)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !rt.closed {
		t.Error("runtime not closed")
	}
	if err := pool.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Acquire after Close = %v, want ErrUnavailable", err)
	}
}
