package collab

import (
	"context"
	"strings"
	"sync"
)

type OverflowPolicy string

const (
	OverflowDropOldest OverflowPolicy = "drop-oldest"
	OverflowDisconnect OverflowPolicy = "disconnect"
)

func ParseOverflowPolicy(raw string) (OverflowPolicy, bool) {
	switch OverflowPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", OverflowDropOldest:
		return OverflowDropOldest, true
	case OverflowDisconnect:
		return OverflowDisconnect, true
	default:
		return OverflowDropOldest, false
	}
}

// Outbox is the per-session delivery queue between broadcasters and the
// connection's write loop. A capacity of zero means unbounded.
type Outbox struct {
	mu         sync.Mutex
	items      [][]byte
	capacity   int
	policy     OverflowPolicy
	notify     chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	overflowed bool
	dropped    uint64
}

func NewOutbox(capacity int, policy OverflowPolicy) *Outbox {
	if capacity < 0 {
		capacity = 0
	}
	if policy == "" {
		policy = OverflowDropOldest
	}
	return &Outbox{
		capacity: capacity,
		policy:   policy,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Enqueue never blocks. At capacity it either drops the oldest frame or
// closes the outbox, depending on the policy.
func (o *Outbox) Enqueue(frame []byte) error {
	if o == nil {
		return ErrOutboxClosed
	}
	o.mu.Lock()
	select {
	case <-o.done:
		o.mu.Unlock()
		return ErrOutboxClosed
	default:
	}
	if o.capacity > 0 && len(o.items) >= o.capacity {
		if o.policy == OverflowDisconnect {
			o.overflowed = true
			o.items = nil
			o.mu.Unlock()
			o.Close()
			return ErrOutboxOverflow
		}
		o.items[0] = nil
		o.items = o.items[1:]
		o.dropped++
	}
	o.items = append(o.items, frame)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue blocks until a frame is available, ctx is done, or the outbox is
// closed.
func (o *Outbox) Dequeue(ctx context.Context) ([]byte, bool) {
	if o == nil {
		return nil, false
	}
	for {
		o.mu.Lock()
		select {
		case <-o.done:
			o.mu.Unlock()
			return nil, false
		default:
		}
		if len(o.items) > 0 {
			frame := o.items[0]
			o.items[0] = nil
			o.items = o.items[1:]
			o.mu.Unlock()
			return frame, true
		}
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-o.done:
			return nil, false
		case <-o.notify:
		}
	}
}

func (o *Outbox) Close() {
	if o == nil {
		return
	}
	o.closeOnce.Do(func() {
		close(o.done)
	})
}

func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

func (o *Outbox) Overflowed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.overflowed
}

func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
