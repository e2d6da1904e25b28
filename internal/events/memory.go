package events

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Publisher and Subscriber. Handlers run
// synchronously in Publish.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]*memoryHandler
}

type memoryHandler struct {
	ctx context.Context
	fn  func(Event)
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]*memoryHandler)}
}

func (b *MemoryBus) Publish(_ context.Context, stream string, event Event) error {
	b.mu.RLock()
	hs := append([]*memoryHandler(nil), b.handlers[stream]...)
	b.mu.RUnlock()

	for _, h := range hs {
		if h.ctx.Err() != nil {
			continue
		}
		h.fn(event)
	}
	return nil
}

// Subscribe registers handler until ctx is done.
func (b *MemoryBus) Subscribe(ctx context.Context, stream string, handler func(Event)) error {
	h := &memoryHandler{ctx: ctx, fn: handler}
	b.mu.Lock()
	b.handlers[stream] = append(b.handlers[stream], h)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[stream]
		for i, x := range hs {
			if x == h {
				b.handlers[stream] = append(hs[:i], hs[i+1:]...)
				break
			}
		}
	}()
	return nil
}
