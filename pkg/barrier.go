package dupwalk

import (
	"context"
	"fmt"
	"sync"
)

// completionBarrier counts discovered folders that are not yet done.
// idle is closed whenever the count is zero and replaced when it rises again.
type completionBarrier struct {
	mu          sync.Mutex
	outstanding int
	idle        chan struct{}
}

func newCompletionBarrier() *completionBarrier {
	idle := make(chan struct{})
	close(idle)
	return &completionBarrier{idle: idle}
}

func (b *completionBarrier) Add() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.outstanding == 0 {
		b.idle = make(chan struct{})
	}
	b.outstanding++
}

func (b *completionBarrier) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.outstanding == 0 {
		panic("dupwalk: completion barrier released more often than added")
	}
	b.outstanding--
	if b.outstanding == 0 {
		close(b.idle)
	}
}

func (b *completionBarrier) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outstanding
}

// Wait blocks until the count reaches zero or ctx ends
func (b *completionBarrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	idle := b.idle
	b.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrWaitInterrupted, ctx.Err())
	}
}
