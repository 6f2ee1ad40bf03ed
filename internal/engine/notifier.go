package engine

import (
	"sync"

	"github.com/001Space/cartsync/internal/domain"
)

// notifier fans cart snapshots out to subscribers. Each subscriber has a
// buffer of one; when a consumer lags, the pending snapshot is replaced
// by the newest one, so consumers always converge on the latest state
// without ever blocking a mutation.
type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan *domain.Cart
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan *domain.Cart)}
}

func (n *notifier) subscribe() (<-chan *domain.Cart, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan *domain.Cart, 1)
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (n *notifier) publish(cart *domain.Cart) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- cart:
		default:
			// Drop the stale pending snapshot and queue the fresh one.
			select {
			case <-ch:
			default:
			}
			ch <- cart
		}
	}
}
